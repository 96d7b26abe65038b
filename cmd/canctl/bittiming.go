package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/robotalks/canlink.go/pkg/can/hw/mcu"
)

var pclk uint32

var bittimingCmd = &cobra.Command{
	Use:   "bittiming BITRATE...",
	Short: "Show bxCAN bit timing for bitrates in kbps",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, arg := range args {
			kbps, err := strconv.ParseUint(arg, 10, 16)
			if err != nil {
				return fmt.Errorf("bitrate %q: %w", arg, err)
			}
			t, err := mcu.ComputeTiming(pclk, uint16(kbps))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%4d kbps: %v BTR=0x%08X\n", kbps, t, t.BTR())
		}
		return nil
	},
}

func init() {
	bittimingCmd.Flags().Uint32Var(&pclk, "pclk", mcu.PCLK, "Peripheral clock in Hz")
	rootCmd.AddCommand(bittimingCmd)
}
