package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcrider/bikeserial"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Print frames received from the bike controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		interval, _ := cmd.Flags().GetDuration("metrics-interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()
		svc.MetricsInterval = interval

		if !svc.Initialize(ctx) && !svc.Config().FakeRead {
			return errors.New("bike controller not ready")
		}

		if err = svc.Start(ctx, bikeserial.NewSession("bikecli read")); err != nil {
			return err
		}
		defer func() { _ = svc.Stop(ctx) }()

		if interval > 0 {
			if ch, err := svc.MetricsChannel(); err == nil {
				go printMetrics(ch)
			}
		}

		readFrames(ctx, svc, os.Stdout, count, timeout)
		return nil
	},
}

type frameSource interface {
	ReadDataTimeout(ctx context.Context, timeout time.Duration, retryCount int) (string, bool)
	Simulating() bool
}

// readFrames prints frames from src until count frames are written or ctx ends.
// Simulated frames arrive instantly, so they are paced one per timeout.
func readFrames(ctx context.Context, src frameSource, w io.Writer, count int, timeout time.Duration) int {
	n := 0
	for count <= 0 || n < count {
		if ctx.Err() != nil {
			return n
		}
		simulated := src.Simulating()
		line, ok := src.ReadDataTimeout(ctx, timeout, 0)
		if ok {
			fmt.Fprintln(w, line)
			n++
		}
		if simulated && (count <= 0 || n < count) {
			select {
			case <-ctx.Done():
				return n
			case <-time.After(timeout):
			}
		}
	}
	return n
}

func printMetrics(ch <-chan bikeserial.MetricsSnapshot) {
	for snap := range ch {
		fmt.Printf("# %s health=%s score=%.0f reads=%d timeouts=%d errors=%d\n",
			snap.Timestamp.Format(time.TimeOnly), snap.HealthStatus, snap.HealthScore,
			snap.SuccessfulReads, snap.ReadTimeouts, snap.ReadErrors)
	}
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().IntP("count", "n", 0, "stop after this many frames (0 reads until interrupted)")
	readCmd.Flags().Duration("timeout", bikeserial.DefaultReadTimeout, "per-read timeout")
	readCmd.Flags().Duration("metrics-interval", 0, "print link health at this interval (0 disables)")
}
