package sim

import (
	"fmt"
	"math"
)

// Utility presets carried over from the research implementation.
const (
	// UtilityProportional trades throughput against delay with equal
	// logarithmic weight (alpha = beta = delta = 1).
	UtilityProportional = "proportional"
	// UtilityFileTransfer rewards throughput only (alpha = 2, delta = 0),
	// the fixed-length file-transfer objective.
	UtilityFileTransfer = "file_transfer"
)

const utilityEpsilon = 1e-6

// UtilityFunction scores one flow's simulated performance. Higher is
// better; the search engine maximizes the mean score across flows and the
// configured aggregate across scenarios.
type UtilityFunction interface {
	Utility(fs FlowSummary) float64
}

// AlphaFairness is the research utility: alpha-fair reward on throughput
// minus delta times an alpha-fair penalty on RTT, shifted so that a flow
// that never sends scores exactly zero.
type AlphaFairness struct {
	Alpha               float64
	Beta                float64
	Delta               float64
	WorstCaseRTTSeconds float64
}

// Utility scores a flow. Throughput is in packets per second of enabled
// time; RTT is clamped into [0, worst case]. A flow with no delivered
// packets is charged the worst-case RTT, which lands it on the zero point.
func (a AlphaFairness) Utility(fs FlowSummary) float64 {
	rtt := fs.MeanRTTMillis / 1000
	if fs.Delivered == 0 {
		rtt = a.WorstCaseRTTSeconds
	}
	rtt = math.Min(math.Max(rtt, 0), a.WorstCaseRTTSeconds)

	score := alphaFair(fs.Throughput, a.Alpha) - a.Delta*alphaFair(rtt, a.Beta)
	zero := alphaFair(0, a.Alpha) - a.Delta*alphaFair(a.WorstCaseRTTSeconds, a.Beta)
	return score - zero
}

// alphaFair computes the alpha-fairness transform of x: log near alpha = 1,
// the power form elsewhere. An epsilon keeps x = 0 finite.
func alphaFair(x, alpha float64) float64 {
	x += utilityEpsilon
	if math.Abs(alpha-1) < utilityEpsilon {
		return math.Log(x)
	}
	return math.Pow(x, 1-alpha) / (1 - alpha)
}

// UtilitySpec selects a preset and optionally overrides its constants.
// The weighting of throughput against delay is scenario configuration, not
// a hidden constant.
type UtilitySpec struct {
	Preset              string   `yaml:"preset,omitempty"`
	Alpha               *float64 `yaml:"alpha,omitempty"`
	Beta                *float64 `yaml:"beta,omitempty"`
	Delta               *float64 `yaml:"delta,omitempty"`
	WorstCaseRTTSeconds *float64 `yaml:"worst_case_rtt_s,omitempty"`
}

// Validate checks the preset name and any overrides.
func (u UtilitySpec) Validate() error {
	switch u.Preset {
	case "", UtilityProportional, UtilityFileTransfer:
	default:
		return fmt.Errorf("unknown utility preset %q; valid: %s, %s", u.Preset, UtilityProportional, UtilityFileTransfer)
	}
	for name, v := range map[string]*float64{
		"alpha": u.Alpha, "beta": u.Beta, "delta": u.Delta, "worst_case_rtt_s": u.WorstCaseRTTSeconds,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("utility %s must be finite, got %g", name, *v)
		}
	}
	if u.WorstCaseRTTSeconds != nil && *u.WorstCaseRTTSeconds <= 0 {
		return fmt.Errorf("utility worst_case_rtt_s must be positive, got %g", *u.WorstCaseRTTSeconds)
	}
	if u.Delta != nil && *u.Delta < 0 {
		return fmt.Errorf("utility delta must be non-negative, got %g", *u.Delta)
	}
	return nil
}

// Build resolves the spec into a UtilityFunction.
func (u UtilitySpec) Build() (UtilityFunction, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	af := AlphaFairness{Alpha: 1, Beta: 1, Delta: 1, WorstCaseRTTSeconds: 10}
	if u.Preset == UtilityFileTransfer {
		af = AlphaFairness{Alpha: 2, Beta: 0, Delta: 0, WorstCaseRTTSeconds: 10}
	}
	if u.Alpha != nil {
		af.Alpha = *u.Alpha
	}
	if u.Beta != nil {
		af.Beta = *u.Beta
	}
	if u.Delta != nil {
		af.Delta = *u.Delta
	}
	if u.WorstCaseRTTSeconds != nil {
		af.WorstCaseRTTSeconds = *u.WorstCaseRTTSeconds
	}
	return af, nil
}

// ScoreRun reduces a run to a scalar fitness: the mean utility across
// flows. The mean, rather than the research code's sum, keeps scores
// comparable between scenarios with different flow counts.
func ScoreRun(u UtilityFunction, summary *RunSummary) float64 {
	if len(summary.Flows) == 0 {
		return 0
	}
	total := 0.0
	for _, fs := range summary.Flows {
		total += u.Utility(fs)
	}
	return total / float64(len(summary.Flows))
}
