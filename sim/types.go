package sim

import (
	"fmt"
	"math"
)

// Dimension indices into the observation space. The order matches the
// serialized policy format and must not change.
const (
	DimAckEWMA = iota
	DimSendEWMA
	DimRTTRatio
	NumDims
)

// MaxWindow caps the congestion window computed by Action.Apply.
const MaxWindow = 1_000_000

// Observation is a snapshot of one flow's smoothed timing statistics, the
// input to every policy decision.
type Observation struct {
	// AckEWMA is the EWMA of inter-ACK gaps, in milliseconds.
	AckEWMA float64 `yaml:"ack_ewma_ms" json:"ack_ewma_ms"`
	// SendEWMA is the EWMA of the gaps between the send times of
	// consecutively acked packets, in milliseconds.
	SendEWMA float64 `yaml:"send_ewma_ms" json:"send_ewma_ms"`
	// RTTRatio is the most recent RTT divided by the minimum RTT observed
	// on the flow so far (1.0 until a second sample exists).
	RTTRatio float64 `yaml:"rtt_ratio" json:"rtt_ratio"`
}

// Dim returns the observation's value along dimension d.
func (o Observation) Dim(d int) float64 {
	switch d {
	case DimAckEWMA:
		return o.AckEWMA
	case DimSendEWMA:
		return o.SendEWMA
	case DimRTTRatio:
		return o.RTTRatio
	}
	panic(fmt.Sprintf("observation dimension out of range: %d", d))
}

// WithDim returns a copy of the observation with dimension d set to v.
func (o Observation) WithDim(d int, v float64) Observation {
	switch d {
	case DimAckEWMA:
		o.AckEWMA = v
	case DimSendEWMA:
		o.SendEWMA = v
	case DimRTTRatio:
		o.RTTRatio = v
	default:
		panic(fmt.Sprintf("observation dimension out of range: %d", d))
	}
	return o
}

func (o Observation) String() string {
	return fmt.Sprintf("(ack_ewma=%.3fms send_ewma=%.3fms rtt_ratio=%.3f)",
		o.AckEWMA, o.SendEWMA, o.RTTRatio)
}

// NumActionComponents is the arity of an Action (increment, multiple, and
// intersend gap). Distinct from NumDims, which counts observation axes.
const NumActionComponents = 3

// Action instructs a sender how to reshape its congestion window and pace
// subsequent sends.
type Action struct {
	WindowIncrement  int32   `yaml:"window_increment" json:"window_increment"`
	WindowMultiple   float64 `yaml:"window_multiple" json:"window_multiple"`
	IntersendSeconds float64 `yaml:"intersend_s" json:"intersend_s"`
}

// Apply computes the new congestion window: the current window is scaled by
// WindowMultiple, rounded, shifted by WindowIncrement, and clamped to
// [0, MaxWindow].
func (a Action) Apply(window uint32) uint32 {
	w := int64(math.Round(float64(window)*a.WindowMultiple)) + int64(a.WindowIncrement)
	if w < 0 {
		return 0
	}
	if w > MaxWindow {
		return MaxWindow
	}
	return uint32(w)
}

func (a Action) String() string {
	return fmt.Sprintf("{incr=%+d mult=%.4f intersend=%.4fs}",
		a.WindowIncrement, a.WindowMultiple, a.IntersendSeconds)
}

// MemoryRange is an axis-aligned box over the observation space.
// Containment is half-open: Lower.d <= x.d < Upper.d on every dimension,
// so boxes sharing a face never both contain a point. Upper bounds may be
// +Inf.
type MemoryRange struct {
	Lower Observation `yaml:"lower" json:"lower"`
	Upper Observation `yaml:"upper" json:"upper"`
}

// Contains reports whether obs lies inside the box.
func (r MemoryRange) Contains(obs Observation) bool {
	for d := 0; d < NumDims; d++ {
		v := obs.Dim(d)
		if v < r.Lower.Dim(d) || v >= r.Upper.Dim(d) {
			return false
		}
	}
	return true
}

// Validate checks that every lower bound is at or below its upper bound
// and that no bound is NaN.
func (r MemoryRange) Validate() error {
	for d := 0; d < NumDims; d++ {
		lo, hi := r.Lower.Dim(d), r.Upper.Dim(d)
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return fmt.Errorf("memory range has NaN bound on dimension %d", d)
		}
		if lo > hi {
			return fmt.Errorf("memory range inverted on dimension %d: %g > %g", d, lo, hi)
		}
	}
	return nil
}

func (r MemoryRange) String() string {
	return fmt.Sprintf("[%g,%g)x[%g,%g)x[%g,%g)",
		r.Lower.AckEWMA, r.Upper.AckEWMA,
		r.Lower.SendEWMA, r.Upper.SendEWMA,
		r.Lower.RTTRatio, r.Upper.RTTRatio)
}
