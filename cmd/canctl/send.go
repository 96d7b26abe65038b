package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/robotalks/canlink.go/pkg/can"
	"github.com/robotalks/canlink.go/pkg/status"
)

var (
	sendAckFrom []uint
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send MSGID [HEXDATA]",
	Short: "Send a message, optionally waiting for ACKs",
	Example: `  canctl send 40 DEADBEEF
  canctl send 3 01 --ack 2,5 --timeout 100ms`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("msg id %q: %w", args[0], err)
		}
		var data []byte
		if len(args) > 1 {
			if data, err = hex.DecodeString(args[1]); err != nil {
				return fmt.Errorf("data %q: %w", args[1], err)
			}
		}
		msg, err := can.NewMessage(can.MsgID(id), data)
		if err != nil {
			return err
		}

		b, err := openBoard()
		if err != nil {
			return err
		}
		defer b.Close()

		out := cmd.OutOrStdout()
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		if len(sendAckFrom) == 0 {
			if err := b.Session.Transmit(&msg, nil); err != nil {
				return err
			}
			// The transport is asynchronous, so run the loop until the queue
			// is flushed.
			ctx, stop := context.WithTimeout(ctx, 100*time.Millisecond)
			defer stop()
			b.Loop().Run(ctx)
			fmt.Fprintf(out, "sent %v\n", msg)
			return nil
		}

		devices := make([]can.DeviceID, len(sendAckFrom))
		for i, dev := range sendAckFrom {
			devices[i] = can.DeviceID(dev)
		}
		doneCh := make(chan error, 1)
		ctx, stop := context.WithCancel(ctx)
		defer stop()
		_, err = b.Session.TransmitWithAck(&msg, can.AckRequest{
			ExpectedBitset: can.ExpectedDevices(devices...),
			Timeout:        sendTimeout,
			Callback: func(id can.MsgID, dev can.DeviceID, st can.AckStatus, remaining uint16) error {
				fmt.Fprintf(out, "ack %d from %d: %v, %d remaining\n", id, dev, st, remaining)
				switch {
				case st != can.AckOK:
					doneCh <- status.Codef(status.Unreachable, "msg %d: %v", id, st)
				case remaining == 0:
					doneCh <- nil
				default:
					return nil
				}
				stop()
				return nil
			},
		})
		if err != nil {
			return err
		}
		b.Loop().Run(ctx)
		select {
		case err := <-doneCh:
			return err
		default:
			return fmt.Errorf("interrupted")
		}
	},
}

func init() {
	sendCmd.Flags().UintSliceVar(&sendAckFrom, "ack", nil, "Device IDs expected to acknowledge")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", can.DefaultAckTimeout, "ACK timeout")
	rootCmd.AddCommand(sendCmd)
}
