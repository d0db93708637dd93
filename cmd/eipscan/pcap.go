package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/capture"
)

type pcapSummaryFlags struct {
	inputFile string
}

func newPcapSummaryCmd() *cobra.Command {
	flags := &pcapSummaryFlags{}

	cmd := &cobra.Command{
		Use:   "pcap-summary",
		Short: "Summarize the UDP flows of a recorded I/O capture",
		Long: `Read a pcap file written by 'eipscan io --pcap' (or any capture holding
UDP datagrams) and print packet and byte counts per flow.

If --input is omitted, the first positional argument is used.`,
		Example: `  eipscan pcap-summary --input eipscan_io.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.inputFile == "" && len(args) > 0 {
				flags.inputFile = args[0]
			}
			if flags.inputFile == "" {
				return missingFlagError(cmd, "--input")
			}
			return runPcapSummary(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.inputFile, "input", "", "Input pcap file (required)")

	return cmd
}

func runPcapSummary(cmd *cobra.Command, flags *pcapSummaryFlags) error {
	datagrams, err := capture.ReadDatagrams(flags.inputFile)
	if err != nil {
		return fmt.Errorf("read pcap: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d datagrams\n", flags.inputFile, len(datagrams))
	for _, f := range capture.Summarize(datagrams) {
		span := f.Last.Sub(f.First)
		fmt.Fprintf(out, "  %-21s -> %-21s %6d packets %8d bytes over %s\n",
			f.Src, f.Dst, f.Packets, f.Bytes, span)
	}
	return nil
}
