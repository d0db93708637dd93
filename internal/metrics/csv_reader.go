package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ReadMetricsCSV reads a metrics CSV file written by Writer and returns the
// parsed metrics along with the first and last timestamps.
func ReadMetricsCSV(path string) ([]Metric, time.Time, time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("open metrics CSV: %w", err)
	}
	defer file.Close()
	return ParseMetricsCSV(file)
}

// ParseMetricsCSV parses metrics CSV data from r.
func ParseMetricsCSV(r io.Reader) ([]Metric, time.Time, time.Time, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("read CSV header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[col] = i
	}
	for _, col := range []string{"timestamp", "operation", "success", "rtt_ms"} {
		if _, ok := colIndex[col]; !ok {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("CSV missing required column: %s", col)
		}
	}

	var metrics []Metric
	var firstTime, lastTime time.Time

	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("read CSV row %d: %w", row, err)
		}

		field := func(name string) string {
			if idx, ok := colIndex[name]; ok && idx < len(record) {
				return record[idx]
			}
			return ""
		}

		m := Metric{
			Operation:   OperationType(field("operation")),
			Target:      field("target"),
			ServiceCode: field("service_code"),
			Success:     field("success") == "true",
			Error:       field("error"),
		}
		if t, err := time.Parse(time.RFC3339Nano, field("timestamp")); err == nil {
			m.Timestamp = t
			if firstTime.IsZero() {
				firstTime = t
			}
			lastTime = t
		}
		if v, err := strconv.ParseFloat(field("rtt_ms"), 64); err == nil {
			m.RTTMs = v
		}
		if v, err := strconv.ParseFloat(field("jitter_ms"), 64); err == nil {
			m.JitterMs = v
		}
		if v, err := strconv.ParseUint(field("status"), 10, 8); err == nil {
			m.Status = uint8(v)
		}

		metrics = append(metrics, m)
	}

	if len(metrics) == 0 {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("no data rows in CSV file")
	}
	return metrics, firstTime, lastTime, nil
}
