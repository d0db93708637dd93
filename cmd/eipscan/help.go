package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/cip/client"
	"github.com/tonylturner/eipscan/internal/logging"
)

func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}

// parseID accepts decimal or 0x-prefixed hex.
func parseID(s string, bits int) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return uint32(v), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// targetFlags are shared by every command that talks to one adapter.
type targetFlags struct {
	ip       string
	port     int
	timeout  time.Duration
	logLevel string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ip, "ip", "", "Target adapter IP address (required)")
	cmd.Flags().IntVar(&f.port, "port", 44818, "EtherNet/IP TCP port")
	cmd.Flags().DurationVar(&f.timeout, "timeout", client.DefaultTimeout, "Request timeout")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "error", "Log level: silent|error|info|verbose|debug")
}

func (f *targetFlags) newClient() (*client.Client, *logging.Logger, error) {
	level, err := logging.ParseLevel(f.logLevel)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLoggerWithOptions(level, "", "text", 1)
	if err != nil {
		return nil, nil, err
	}
	c := client.NewClient(f.ip,
		client.WithPort(f.port),
		client.WithTimeout(f.timeout),
		client.WithLogger(logger),
	)
	return c, logger, nil
}
