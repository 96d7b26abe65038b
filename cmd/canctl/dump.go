package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robotalks/canlink.go/pkg/can"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print received messages until interrupted",
	Long: `dump prints every data message the board accepts. Critical messages are
acknowledged with OK, as a board without handlers would.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBoard()
		if err != nil {
			return err
		}
		defer b.Close()

		out := cmd.OutOrStdout()
		err = b.Session.RegisterDefaultRxHandler(func(msg *can.Message, _ *can.AckStatus) error {
			fmt.Fprintf(out, "%s %v\n", time.Now().Format("15:04:05.000"), msg)
			return nil
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		if err := b.Loop().Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
