package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/robotalks/canlink.go/pkg/board"
	"github.com/robotalks/canlink.go/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "canctl",
	Short: "CAN bus tool",
	Long: `canctl talks to a CAN bus the way a board does.

Board settings come from the same flags, CANLINK_* environment variables and
YAML file as canlinkd. Telemetry and the UART bridge are never started.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Values were set through pflag; mark the Go flag set parsed for glog.
		flag.CommandLine.Parse(nil)
	},
}

func init() {
	config.SetupFlags()
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// openBoard creates a board without telemetry or UART bridge.
func openBoard() (*board.Board, error) {
	conf, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	conf.MQTTURL = ""
	conf.UARTPort = ""
	return board.New(conf)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
