package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/capture"
	"github.com/tonylturner/eipscan/internal/cip/client"
	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/cip/ioengine"
	"github.com/tonylturner/eipscan/internal/config"
	uerrors "github.com/tonylturner/eipscan/internal/errors"
	"github.com/tonylturner/eipscan/internal/metrics"
	"github.com/tonylturner/eipscan/internal/ui"
)

type ioFlags struct {
	configPath  string
	name        string
	ip          string
	duration    time.Duration
	monitor     bool
	pcapPath    string
	metricsFile string
	outputHex   string
	counter     bool
}

func newIOCmd() *cobra.Command {
	flags := &ioFlags{}

	cmd := &cobra.Command{
		Use:   "io",
		Short: "Open an I/O connection and exchange cyclic data",
		Long: `Open the I/O connection named in the configuration file with Forward Open,
produce O->T data at the negotiated RPI and consume the adapter's T->O data
until --duration expires or the command is interrupted. The connection is
closed with Forward Close on the way out.

Sizes left out of the configuration are read from the assembly instances
before the connection is opened. With --monitor a live view replaces the
plain run; press q to close the connection.`,
		Example: `  # Run the first connection in eipscan.yaml for 10 seconds
  eipscan io --duration 10s

  # Live view of a named connection, recording the datagrams
  eipscan io --config plant.yaml --name rack1 --monitor --pcap rack1.pcap

  # Fixed output data with a rolling counter in the first two bytes
  eipscan io --output-hex 0000FF00 --counter --metrics-file io.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runIO(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", config.DefaultPath, "Configuration file")
	cmd.Flags().StringVar(&flags.name, "name", "", "I/O connection name (default: first configured)")
	cmd.Flags().StringVar(&flags.ip, "ip", "", "Override the target IP from the configuration")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "Run time; 0 runs until interrupted")
	cmd.Flags().BoolVar(&flags.monitor, "monitor", false, "Show a live view of the connection")
	cmd.Flags().StringVar(&flags.pcapPath, "pcap", "", "Record I/O datagrams to this pcap file")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write per-operation metrics to this CSV file")
	cmd.Flags().StringVar(&flags.outputHex, "output-hex", "", "O->T data as hex bytes")
	cmd.Flags().BoolVar(&flags.counter, "counter", false, "Write a little-endian counter into the first two output bytes")

	return cmd
}

func runIO(cmd *cobra.Command, flags *ioFlags) error {
	cfg, err := config.LoadConfig(flags.configPath, false)
	if err != nil {
		return err
	}
	if flags.ip != "" {
		cfg.Target.IP = flags.ip
	}
	connCfg, err := cfg.Connection(flags.name)
	if err != nil {
		return uerrors.WrapConfigError(err, flags.configPath)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return uerrors.WrapConfigError(err, flags.configPath)
	}
	defer logger.Close()
	logger.LogStartup("io", cfg.Target.IP, cfg.Target.Port, flags.configPath)

	var output []byte
	if flags.outputHex != "" {
		if output, err = hex.DecodeString(strings.TrimPrefix(flags.outputHex, "0x")); err != nil {
			return fmt.Errorf("parse --output-hex: %w", err)
		}
	}

	orig := connection.Originator{VendorID: cfg.Originator.VendorID, SerialNumber: cfg.Originator.SerialNumber}
	req, err := connCfg.ForwardOpenRequest(orig, uint16(cfg.Originator.UDPPort))
	if err != nil {
		return uerrors.WrapConfigError(err, flags.configPath)
	}

	sink := metrics.NewSink()
	recorders := metrics.Tee{sink}
	if flags.metricsFile != "" {
		w, err := metrics.NewWriter(flags.metricsFile)
		if err != nil {
			return err
		}
		defer w.Close()
		recorders = append(recorders, w)
	}

	opts := []client.Option{
		client.WithPort(cfg.Target.Port),
		client.WithTimeout(cfg.Target.Timeout()),
		client.WithLogger(logger),
		client.WithMetrics(recorders),
		client.WithVendorID(cfg.Originator.VendorID),
		client.WithSerialNumber(cfg.Originator.SerialNumber),
		client.WithCompatibilityMode(connCfg.Compatibility),
	}

	pcapPath := flags.pcapPath
	if pcapPath == "" && cfg.Capture.Enabled {
		pcapPath = cfg.Capture.Path
	}
	var rec *capture.Recorder
	if pcapPath != "" {
		rec, err = openCapture(pcapPath, cfg.Target.IP, cfg.Target.Port)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("close capture: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d datagrams to %s\n", rec.Count(), pcapPath)
		}()
		opts = append(opts, client.WithRecorder(rec))
	}

	c := client.NewClient(cfg.Target.IP, opts...)

	ctx, cancel := signalContext()
	defer cancel()
	if flags.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	var ioOpts []ioengine.Option
	if flags.counter {
		var n uint16
		ioOpts = append(ioOpts, ioengine.WithObserver(ioengine.ObserverFuncs{
			Sending: func(ioctx *ioengine.Context) {
				n++
				out := ioctx.Output()
				if len(out) >= 2 {
					binary.LittleEndian.PutUint16(out, n)
					_ = ioctx.SetOutput(out)
				}
			},
		}))
	}

	ioctx, err := c.ForwardOpen(ctx, req, ioOpts...)
	if err != nil {
		c.Close(context.Background())
		return wrapRequestError(err, cfg.Target.IP, cfg.Target.Port, "forward open "+connCfg.Name)
	}
	if output != nil {
		if err := ioctx.SetOutput(output); err != nil {
			c.Close(context.Background())
			return err
		}
	}

	if flags.monitor {
		err = ui.RunMonitor(ctx, connCfg.Name, ioctx)
	} else {
		waitClosed(ctx, ioctx)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Target.Timeout())
	defer closeCancel()
	final := ioctx.Snapshot()
	if cerr := c.ForwardClose(closeCtx, ioctx); cerr != nil && final.State != ioengine.StateClosed {
		logger.Error("forward close: %v", cerr)
	}
	c.Close(closeCtx)

	out := cmd.OutOrStdout()
	if !flags.monitor {
		fmt.Fprintln(out, ui.RenderStatus(connCfg.Name, final, time.Now()))
	}
	fmt.Fprint(out, metrics.FormatSummary(sink.GetSummary()))
	return err
}

// waitClosed blocks until ctx ends or the engine closes the connection.
func waitClosed(ctx context.Context, ioctx *ioengine.Context) {
	ticker := time.NewTicker(ui.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ioctx.State() == ioengine.StateClosed {
				return
			}
		}
	}
}

// openCapture creates the pcap recorder. The originator address is the local
// address the host would use to reach the target.
func openCapture(path, target string, port int) (*capture.Recorder, error) {
	ips, err := net.LookupIP(target)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s for capture: %w", target, err)
	}
	targetIP := ips[0].To4()
	if targetIP == nil {
		return nil, fmt.Errorf("capture needs an IPv4 target, got %s", ips[0])
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(targetIP.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("find local address: %w", err)
	}
	local := conn.LocalAddr().(*net.UDPAddr).IP
	conn.Close()
	return capture.Create(path, local, targetIP)
}
