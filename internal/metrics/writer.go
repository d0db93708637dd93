package metrics

// CSV output and summary formatting

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

var csvHeader = []string{
	"timestamp",
	"operation",
	"target",
	"service_code",
	"success",
	"rtt_ms",
	"jitter_ms",
	"status",
	"error",
}

// Writer streams metrics to a CSV file. It also implements Recorder, so a
// Writer can sit behind a Tee with a Sink.
type Writer struct {
	mu        sync.Mutex
	csvFile   *os.File
	csvWriter *csv.Writer
	err       error
}

// NewWriter creates a CSV writer and writes the header row
func NewWriter(csvPath string) (*Writer, error) {
	file, err := os.Create(csvPath)
	if err != nil {
		return nil, fmt.Errorf("create CSV file: %w", err)
	}
	w := &Writer{csvFile: file, csvWriter: csv.NewWriter(file)}
	if err := w.csvWriter.Write(csvHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("write CSV header: %w", err)
	}
	w.csvWriter.Flush()
	return w, nil
}

// WriteMetric writes a single metric
func (w *Writer) WriteMetric(m Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := []string{
		m.Timestamp.Format(time.RFC3339Nano),
		string(m.Operation),
		m.Target,
		m.ServiceCode,
		fmt.Sprintf("%t", m.Success),
		formatRTT(m.RTTMs),
		formatRTT(m.JitterMs),
		fmt.Sprintf("%d", m.Status),
		m.Error,
	}
	if err := w.csvWriter.Write(record); err != nil {
		return fmt.Errorf("write CSV record: %w", err)
	}
	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

// Record implements Recorder. The first write error is kept for Close.
func (w *Writer) Record(m Metric) {
	if err := w.WriteMetric(m); err != nil {
		w.mu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.mu.Unlock()
	}
}

// Close flushes and closes the file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csvWriter.Flush()
	err := w.csvFile.Close()
	if w.err != nil {
		return w.err
	}
	return err
}

// Tee fans a metric out to several recorders
type Tee []Recorder

func (t Tee) Record(m Metric) {
	for _, r := range t {
		if r != nil {
			r.Record(m)
		}
	}
}

// formatRTT formats RTT value for CSV (empty string if 0)
func formatRTT(rtt float64) string {
	if rtt == 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", rtt)
}

// FormatSummary formats a summary for human-readable output
func FormatSummary(summary *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Total Operations: %d\n", summary.TotalOperations)
	if summary.TotalOperations == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Successful: %d (%.1f%%)\n",
		summary.SuccessfulOps,
		float64(summary.SuccessfulOps)/float64(summary.TotalOperations)*100)
	fmt.Fprintf(&b, "Failed: %d (%.1f%%)\n",
		summary.FailedOps,
		float64(summary.FailedOps)/float64(summary.TotalOperations)*100)

	if summary.TimeoutCount > 0 {
		fmt.Fprintf(&b, "Timeouts: %d\n", summary.TimeoutCount)
	}
	if summary.ConnectionFailures > 0 {
		fmt.Fprintf(&b, "Connection Failures: %d\n", summary.ConnectionFailures)
	}

	if summary.MaxRTT > 0 {
		b.WriteString("\nRTT Statistics:\n")
		fmt.Fprintf(&b, "  Min: %.3f ms\n", summary.MinRTT)
		fmt.Fprintf(&b, "  Max: %.3f ms\n", summary.MaxRTT)
		fmt.Fprintf(&b, "  Avg: %.3f ms\n", summary.AvgRTT)
		fmt.Fprintf(&b, "  P50: %.3f ms  P90: %.3f ms  P99: %.3f ms\n", summary.P50RTT, summary.P90RTT, summary.P99RTT)
		if len(summary.RTTBuckets) > 0 {
			fmt.Fprintf(&b, "  Buckets: <1ms=%d 1-5ms=%d 5-10ms=%d 10-50ms=%d 50-100ms=%d >100ms=%d\n",
				summary.RTTBuckets["lt_1ms"],
				summary.RTTBuckets["1_5ms"],
				summary.RTTBuckets["5_10ms"],
				summary.RTTBuckets["10_50ms"],
				summary.RTTBuckets["50_100ms"],
				summary.RTTBuckets["gt_100ms"],
			)
		}
	}
	if summary.AvgJitter > 0 {
		b.WriteString("\nCycle Jitter:\n")
		fmt.Fprintf(&b, "  Min: %.3f ms\n", summary.MinJitter)
		fmt.Fprintf(&b, "  Max: %.3f ms\n", summary.MaxJitter)
		fmt.Fprintf(&b, "  Avg: %.3f ms\n", summary.AvgJitter)
	}

	if len(summary.ByOperation) > 0 {
		b.WriteString("\nPer-Operation Statistics:\n")
		for _, op := range summary.Operations() {
			stats := summary.ByOperation[op]
			fmt.Fprintf(&b, "  %s: %d ops (%d success, %d failed)", op, stats.Count, stats.Success, stats.Failed)
			if stats.SumRTT > 0 {
				fmt.Fprintf(&b, " - RTT: min=%.3fms, max=%.3fms, avg=%.3fms", stats.MinRTT, stats.MaxRTT, stats.AvgRTT)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
