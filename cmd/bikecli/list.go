package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports visible to this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}

		usbOnly, _ := cmd.Flags().GetBool("usb")

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
		shown := 0
		for _, p := range ports {
			if usbOnly && !p.IsUSB {
				continue
			}
			ids := "-"
			if p.IsUSB {
				ids = p.VID + ":" + p.PID
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", p.Name, p.IsUSB, ids, p.SerialNumber, p.Product)
			shown++
		}
		if err = w.Flush(); err != nil {
			return err
		}
		if shown == 0 {
			fmt.Println("No serial ports found")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("usb", false, "only show USB serial adapters")
}
