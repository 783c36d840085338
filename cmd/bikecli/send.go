package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcrider/bikeserial"
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one line to the bike controller",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, _ := cmd.Flags().GetBool("reply")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if !svc.Initialize(ctx) {
			return errors.New("bike controller not ready")
		}
		svc.SendData(strings.Join(args, " "))

		if reply {
			line, ok := svc.ReadDataTimeout(ctx, bikeserial.DefaultReadTimeout, bikeserial.NoRetry)
			if !ok {
				return errors.New("no reply")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolP("reply", "r", false, "wait for and print one reply line")
}
