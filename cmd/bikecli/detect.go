package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Scan all serial ports for the bike controller and cache the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if !svc.Detect(ctx) {
			return errors.New("bike controller not found on any serial port")
		}
		cfg := svc.Config()
		fmt.Printf("found on %s (baud %d)\n", cfg.PortName, cfg.BaudRate)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
