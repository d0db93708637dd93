package metrics

// Metrics collection for explicit and implicit CIP traffic

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// OperationType represents the type of operation
type OperationType string

const (
	OperationRegister     OperationType = "REGISTER_SESSION"
	OperationUnregister   OperationType = "UNREGISTER_SESSION"
	OperationGetAttribute OperationType = "GET_ATTRIBUTE"
	OperationSetAttribute OperationType = "SET_ATTRIBUTE"
	OperationGetAll       OperationType = "GET_ATTRIBUTES_ALL"
	OperationForwardOpen  OperationType = "FORWARD_OPEN"
	OperationForwardClose OperationType = "FORWARD_CLOSE"
	OperationListIdentity OperationType = "LIST_IDENTITY"
	OperationOToTSend     OperationType = "O_TO_T_SEND"
	OperationTToORecv     OperationType = "T_TO_O_RECV"
	OperationTToODrop     OperationType = "T_TO_O_DROP"
)

// Metric represents a single operation metric
type Metric struct {
	Timestamp   time.Time
	Operation   OperationType
	Target      string
	ServiceCode string
	Success     bool
	RTTMs       float64
	JitterMs    float64
	Status      uint8
	Error       string
}

// Recorder accepts metrics. *Sink and Discard implement it.
type Recorder interface {
	Record(m Metric)
}

type discard struct{}

func (discard) Record(Metric) {}

// Discard drops every metric.
var Discard Recorder = discard{}

// Sink collects and aggregates metrics
type Sink struct {
	mu      sync.RWMutex
	metrics []Metric
	limit   int
	summary *Summary
}

// Summary contains aggregated statistics
type Summary struct {
	TotalOperations    int
	SuccessfulOps      int
	FailedOps          int
	TimeoutCount       int
	ConnectionFailures int
	MinRTT             float64
	MaxRTT             float64
	AvgRTT             float64
	P50RTT             float64
	P90RTT             float64
	P99RTT             float64
	MinJitter          float64
	MaxJitter          float64
	AvgJitter          float64
	jitterCount        int
	RTTBuckets         map[string]int
	ByOperation        map[OperationType]*OperationStats
}

// OperationStats contains statistics for a specific operation type
type OperationStats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

func newSummary() *Summary {
	return &Summary{
		RTTBuckets:  make(map[string]int),
		ByOperation: make(map[OperationType]*OperationStats),
	}
}

// NewSink creates a metrics sink that retains every metric
func NewSink() *Sink {
	return NewBoundedSink(0)
}

// NewBoundedSink keeps at most limit raw metrics for percentiles. Counters
// and averages still cover everything recorded. A limit <= 0 means unbounded.
func NewBoundedSink(limit int) *Sink {
	return &Sink{summary: newSummary(), limit: limit}
}

// Record records a new metric
func (s *Sink) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, m)
	if s.limit > 0 && len(s.metrics) > s.limit {
		s.metrics = append(s.metrics[:0], s.metrics[len(s.metrics)-s.limit:]...)
	}
	s.updateSummary(m)
}

// GetMetrics returns a copy of the retained metrics
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]Metric, len(s.metrics))
	copy(metrics, s.metrics)
	return metrics
}

// GetSummary returns a copy of the aggregated summary
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := *s.summary
	summary.RTTBuckets = make(map[string]int)
	summary.ByOperation = make(map[OperationType]*OperationStats, len(s.summary.ByOperation))
	for op, stats := range s.summary.ByOperation {
		cp := *stats
		summary.ByOperation[op] = &cp
	}

	var rtts []float64
	for _, m := range s.metrics {
		if m.Success && m.RTTMs > 0 {
			rtts = append(rtts, m.RTTMs)
			incrementBucket(summary.RTTBuckets, m.RTTMs)
		}
	}
	p := computePercentiles(rtts)
	summary.P50RTT, summary.P90RTT, summary.P99RTT = p[0], p[1], p[2]
	return &summary
}

// updateSummary updates the summary statistics with a new metric
func (s *Sink) updateSummary(m Metric) {
	s.summary.TotalOperations++

	if m.Success {
		s.summary.SuccessfulOps++
	} else {
		s.summary.FailedOps++
		lower := strings.ToLower(m.Error)
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
			s.summary.TimeoutCount++
		}
		if strings.Contains(lower, "connect") {
			s.summary.ConnectionFailures++
		}
	}

	if m.JitterMs > 0 {
		if s.summary.MinJitter == 0 || m.JitterMs < s.summary.MinJitter {
			s.summary.MinJitter = m.JitterMs
		}
		if m.JitterMs > s.summary.MaxJitter {
			s.summary.MaxJitter = m.JitterMs
		}
		s.summary.jitterCount++
		total := s.summary.AvgJitter*float64(s.summary.jitterCount-1) + m.JitterMs
		s.summary.AvgJitter = total / float64(s.summary.jitterCount)
	}

	if m.Success && m.RTTMs > 0 {
		if s.summary.MinRTT == 0 || m.RTTMs < s.summary.MinRTT {
			s.summary.MinRTT = m.RTTMs
		}
		if m.RTTMs > s.summary.MaxRTT {
			s.summary.MaxRTT = m.RTTMs
		}
	}

	opStats, exists := s.summary.ByOperation[m.Operation]
	if !exists {
		opStats = &OperationStats{}
		s.summary.ByOperation[m.Operation] = opStats
	}
	opStats.Count++
	if !m.Success {
		opStats.Failed++
		return
	}
	opStats.Success++
	if m.RTTMs > 0 {
		if opStats.MinRTT == 0 || m.RTTMs < opStats.MinRTT {
			opStats.MinRTT = m.RTTMs
		}
		if m.RTTMs > opStats.MaxRTT {
			opStats.MaxRTT = m.RTTMs
		}
		opStats.SumRTT += m.RTTMs
		opStats.AvgRTT = opStats.SumRTT / float64(opStats.Success)
	}

	var sum float64
	var n int
	for _, stats := range s.summary.ByOperation {
		sum += stats.SumRTT
		n += stats.Success
	}
	if n > 0 {
		s.summary.AvgRTT = sum / float64(n)
	}
}

// Operations returns the recorded operation types in a stable order
func (s *Summary) Operations() []OperationType {
	ops := make([]OperationType, 0, len(s.ByOperation))
	for op := range s.ByOperation {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

func incrementBucket(buckets map[string]int, value float64) {
	switch {
	case value < 1:
		buckets["lt_1ms"]++
	case value < 5:
		buckets["1_5ms"]++
	case value < 10:
		buckets["5_10ms"]++
	case value < 50:
		buckets["10_50ms"]++
	case value < 100:
		buckets["50_100ms"]++
	default:
		buckets["gt_100ms"]++
	}
}

func computePercentiles(values []float64) [3]float64 {
	var result [3]float64
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	result[0] = percentile(values, 0.50)
	result[1] = percentile(values, 0.90)
	result[2] = percentile(values, 0.99)
	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
