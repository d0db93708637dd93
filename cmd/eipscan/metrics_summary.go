package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/metrics"
)

type metricsSummaryFlags struct {
	inputFile string
}

func newMetricsSummaryCmd() *cobra.Command {
	flags := &metricsSummaryFlags{}

	cmd := &cobra.Command{
		Use:   "metrics-summary",
		Short: "Summarize a metrics CSV written by io --metrics-file",
		Example: `  eipscan metrics-summary --input io.csv`,
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
			return runMetricsSummary(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.inputFile, "input", "", "Metrics CSV file (required)")

	return cmd
}

func runMetricsSummary(cmd *cobra.Command, flags *metricsSummaryFlags) error {
	list, first, last, err := metrics.ReadMetricsCSV(flags.inputFile)
	if err != nil {
		return err
	}
	sink := metrics.NewSink()
	for _, m := range list {
		sink.Record(m)
	}
	out := cmd.OutOrStdout()
	if !first.IsZero() {
		fmt.Fprintf(out, "%s to %s (%s)\n\n", first.Format("15:04:05.000"), last.Format("15:04:05.000"), last.Sub(first))
	}
	fmt.Fprint(out, metrics.FormatSummary(sink.GetSummary()))
	return nil
}
