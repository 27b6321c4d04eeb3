package sim

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FlowSummary is one flow's performance over a run.
type FlowSummary struct {
	FlowID int `json:"flow_id"`

	// Throughput is delivered packets per second of enabled time.
	Throughput float64 `json:"throughput_pps"`
	// MeanRTTMillis averages the RTT over acked packets (0 if none).
	MeanRTTMillis float64 `json:"mean_rtt_ms"`
	// LossRate is the sender's view: packets written off by timeout over
	// packets sent. Packets abandoned at a toggle are not counted.
	LossRate float64 `json:"loss_rate"`

	Sent           uint64  `json:"sent"`
	Delivered      uint64  `json:"delivered"`
	Lost           uint64  `json:"lost"`
	Timeouts       uint64  `json:"timeouts"`
	EnabledSeconds float64 `json:"enabled_s"`
}

// RunSummary is the full outcome of one simulation run.
type RunSummary struct {
	Scenario string        `json:"scenario"`
	Flows    []FlowSummary `json:"flows"`

	EventsProcessed uint64 `json:"events_processed"`
	ClockTicks      int64  `json:"clock_ticks"`

	// Link-side ground truth. TailDrops counts buffer overflows;
	// RandomLosses counts per-delivery loss draws. Flow loss counters are
	// the sender's timeout-based estimate of the same packets.
	Delivered    uint64 `json:"delivered"`
	TailDrops    uint64 `json:"tail_drops"`
	RandomLosses uint64 `json:"random_losses"`

	PolicyConsults uint64 `json:"policy_consults"`
}

// Throughputs collects per-flow throughput values.
func (r *RunSummary) Throughputs() []float64 {
	vals := make([]float64, len(r.Flows))
	for i, f := range r.Flows {
		vals[i] = f.Throughput
	}
	return vals
}

// MeanRTTs collects per-flow mean RTT values in milliseconds.
func (r *RunSummary) MeanRTTs() []float64 {
	vals := make([]float64, len(r.Flows))
	for i, f := range r.Flows {
		vals[i] = f.MeanRTTMillis
	}
	return vals
}

// Distribution captures a statistical summary of a metric.
type Distribution struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// NewDistribution computes a Distribution from raw values.
// Returns a zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Distribution{
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}
