// Package trainer provides the simulation-driven search engine: it
// proposes candidate policies by mutating the current best, scores them
// against a frozen battery of scenarios, and keeps strict improvements.
package trainer

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/linear"
)

// Policy kinds the engine can train.
const (
	PolicyWhisker = "whisker"
	PolicyLinear  = "linear"
)

// Leaf and split-point selection strategies for tree mutations.
const (
	LeafByUsage   = "usage"
	LeafAtRandom  = "random"
	PointMidpoint = "midpoint"
	PointAtRandom = "random"
)

var (
	validPolicies = map[string]bool{
		PolicyWhisker: true, PolicyLinear: true,
	}
	validLeafStrategies = map[string]bool{
		LeafByUsage: true, LeafAtRandom: true,
	}
	validPointStrategies = map[string]bool{
		PointMidpoint: true, PointAtRandom: true,
	}
)

// OptimizationSetting bounds one action component and the geometric ladder
// of step sizes mutations draw from: initial_change, initial_change x
// multiplier, and so on up to max_change.
type OptimizationSetting struct {
	Min           float64 `yaml:"min"`
	Max           float64 `yaml:"max"`
	InitialChange float64 `yaml:"initial_change"`
	MaxChange     float64 `yaml:"max_change"`
	Multiplier    float64 `yaml:"multiplier"`
	Default       float64 `yaml:"default"`
}

func (o OptimizationSetting) validate(name string) error {
	for field, v := range map[string]float64{
		"min": o.Min, "max": o.Max, "initial_change": o.InitialChange,
		"max_change": o.MaxChange, "multiplier": o.Multiplier, "default": o.Default,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s.%s must be finite", name, field)
		}
	}
	if o.Min > o.Max {
		return fmt.Errorf("%s: min %g exceeds max %g", name, o.Min, o.Max)
	}
	if o.Default < o.Min || o.Default > o.Max {
		return fmt.Errorf("%s: default %g outside [%g, %g]", name, o.Default, o.Min, o.Max)
	}
	if o.InitialChange <= 0 || o.MaxChange < o.InitialChange {
		return fmt.Errorf("%s: change ladder needs 0 < initial_change <= max_change, got %g and %g",
			name, o.InitialChange, o.MaxChange)
	}
	if o.Multiplier <= 1 {
		return fmt.Errorf("%s: multiplier must exceed 1, got %g", name, o.Multiplier)
	}
	return nil
}

// ladder enumerates the step sizes: initial_change x multiplier^k, capped
// at max_change.
func (o OptimizationSetting) ladder() []float64 {
	var steps []float64
	for step := o.InitialChange; step <= o.MaxChange; step *= o.Multiplier {
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		steps = []float64{o.InitialChange}
	}
	return steps
}

// ActionSpaceSpec bounds all three action components.
type ActionSpaceSpec struct {
	WindowIncrement OptimizationSetting `yaml:"window_increment"`
	WindowMultiple  OptimizationSetting `yaml:"window_multiple"`
	Intersend       OptimizationSetting `yaml:"intersend_s"`
}

// DefaultActionSpace returns the research defaults: increments up to 256,
// multiples up to 1, pacing between 0.25 ms and 3 ms.
func DefaultActionSpace() ActionSpaceSpec {
	return ActionSpaceSpec{
		WindowIncrement: OptimizationSetting{Min: 0, Max: 256, InitialChange: 1, MaxChange: 32, Multiplier: 4, Default: 1},
		WindowMultiple:  OptimizationSetting{Min: 0, Max: 1, InitialChange: 0.01, MaxChange: 0.5, Multiplier: 4, Default: 1},
		Intersend:       OptimizationSetting{Min: 0.00025, Max: 0.003, InitialChange: 0.00005, MaxChange: 0.001, Multiplier: 4, Default: 0.003},
	}
}

// DefaultAction assembles the neutral starting action from the defaults.
func (a ActionSpaceSpec) DefaultAction() sim.Action {
	return sim.Action{
		WindowIncrement:  int32(math.Round(a.WindowIncrement.Default)),
		WindowMultiple:   a.WindowMultiple.Default,
		IntersendSeconds: a.Intersend.Default,
	}
}

// MinAction returns the lower corner of the action box.
func (a ActionSpaceSpec) MinAction() sim.Action {
	return sim.Action{
		WindowIncrement:  int32(math.Round(a.WindowIncrement.Min)),
		WindowMultiple:   a.WindowMultiple.Min,
		IntersendSeconds: a.Intersend.Min,
	}
}

// MaxAction returns the upper corner of the action box.
func (a ActionSpaceSpec) MaxAction() sim.Action {
	return sim.Action{
		WindowIncrement:  int32(math.Round(a.WindowIncrement.Max)),
		WindowMultiple:   a.WindowMultiple.Max,
		IntersendSeconds: a.Intersend.Max,
	}
}

// MutationSpec tunes how candidates are derived from the incumbent.
type MutationSpec struct {
	// SplitProbability picks tree refinement over action perturbation.
	SplitProbability float64 `yaml:"split_probability"`
	// LeafStrategy selects which leaf to mutate: "usage" weights leaves
	// by how often the incumbent consulted them, "random" is uniform.
	LeafStrategy string `yaml:"leaf_strategy"`
	// PointStrategy places the split: "midpoint" or "random".
	PointStrategy string `yaml:"point_strategy"`
	// ParamSigma and ParamBound shape linear-policy perturbations: one
	// parameter moves by N(0, sigma) and is clamped into [-bound, bound].
	ParamSigma float64 `yaml:"param_sigma"`
	ParamBound float64 `yaml:"param_bound"`
}

// TrainSpec is the full training configuration, loaded from YAML.
type TrainSpec struct {
	Policy string `yaml:"policy"`
	Seed   int64  `yaml:"seed"`

	Generations int `yaml:"generations"`
	BatchSize   int `yaml:"batch_size"`
	Workers     int `yaml:"workers,omitempty"`

	// Early stop when best-fitness improvement over the last
	// convergence_window generations drops below convergence_threshold.
	ConvergenceWindow    int     `yaml:"convergence_window"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`

	// Aggregator reduces per-scenario scores to one fitness: "mean" or a
	// percentile such as "p25".
	Aggregator string `yaml:"aggregator"`

	Mutation    MutationSpec    `yaml:"mutation"`
	ActionSpace ActionSpaceSpec `yaml:"action_space"`

	// RootDomain is the observation region a whisker tree must cover.
	// Training fails with DomainError if an observation escapes it.
	RootDomain sim.MemoryRange `yaml:"root_domain"`

	// LinearBounds configures the continuous policy variant.
	LinearBounds *linear.Bounds `yaml:"linear_bounds,omitempty"`

	Scenarios            []sim.Scenario            `yaml:"scenarios,omitempty"`
	ScenarioDistribution *sim.ScenarioDistribution `yaml:"scenario_distribution,omitempty"`

	// Output is the path the trained policy artifact is written to.
	// History lands next to it with a .history.json suffix.
	Output string `yaml:"output,omitempty"`
}

// DefaultTrainSpec returns a runnable whisker configuration with the
// research action space and a small single-scenario battery.
func DefaultTrainSpec() *TrainSpec {
	return &TrainSpec{
		Policy:               PolicyWhisker,
		Seed:                 1,
		Generations:          50,
		BatchSize:            16,
		Workers:              0,
		ConvergenceWindow:    10,
		ConvergenceThreshold: 1e-3,
		Aggregator:           "mean",
		Mutation: MutationSpec{
			SplitProbability: 0.25,
			LeafStrategy:     LeafByUsage,
			PointStrategy:    PointMidpoint,
			ParamSigma:       0.05,
			ParamBound:       4,
		},
		ActionSpace: DefaultActionSpace(),
		RootDomain: sim.MemoryRange{
			Upper: sim.Observation{AckEWMA: 163840, SendEWMA: 163840, RTTRatio: 163840},
		},
		Scenarios: []sim.Scenario{{
			Name:            "baseline",
			LinkRatePPS:     1000,
			RTTMillis:       100,
			BufferPackets:   240,
			NumFlows:        2,
			DurationSeconds: 10,
			Seed:            1,
		}},
		Output: "trained.remy.dna",
	}
}

// LoadTrainSpec reads and parses a YAML training configuration.
// Parsing is strict: unrecognized keys are rejected.
func LoadTrainSpec(path string) (*TrainSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading training spec: %w", err)
	}
	var spec TrainSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing training spec: %w", err)
	}
	return &spec, nil
}

// Validate checks every field. The battery itself is validated on Build,
// scenario by scenario.
func (s *TrainSpec) Validate() error {
	if !validPolicies[s.Policy] {
		return fmt.Errorf("unknown policy %q; valid: whisker, linear", s.Policy)
	}
	if s.Generations < 1 {
		return fmt.Errorf("generations must be at least 1, got %d", s.Generations)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", s.BatchSize)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative (0 = all CPUs), got %d", s.Workers)
	}
	if s.ConvergenceWindow < 1 {
		return fmt.Errorf("convergence_window must be at least 1, got %d", s.ConvergenceWindow)
	}
	if math.IsNaN(s.ConvergenceThreshold) || s.ConvergenceThreshold < 0 {
		return fmt.Errorf("convergence_threshold must be non-negative, got %g", s.ConvergenceThreshold)
	}
	if _, err := newAggregator(s.Aggregator); err != nil {
		return err
	}
	if err := s.Mutation.validate(); err != nil {
		return err
	}
	for name, setting := range map[string]OptimizationSetting{
		"action_space.window_increment": s.ActionSpace.WindowIncrement,
		"action_space.window_multiple":  s.ActionSpace.WindowMultiple,
		"action_space.intersend_s":      s.ActionSpace.Intersend,
	} {
		if err := setting.validate(name); err != nil {
			return err
		}
	}
	switch s.Policy {
	case PolicyWhisker:
		if err := s.RootDomain.Validate(); err != nil {
			return fmt.Errorf("root_domain: %w", err)
		}
		for d := 0; d < sim.NumDims; d++ {
			if s.RootDomain.Lower.Dim(d) >= s.RootDomain.Upper.Dim(d) {
				return fmt.Errorf("root_domain empty on dimension %d", d)
			}
		}
	case PolicyLinear:
		if s.LinearBounds == nil {
			return fmt.Errorf("linear_bounds required for the linear policy")
		}
		if err := s.LinearBounds.Validate(); err != nil {
			return fmt.Errorf("linear_bounds: %w", err)
		}
	}
	if len(s.Scenarios) == 0 && s.ScenarioDistribution == nil {
		return fmt.Errorf("at least one scenario or a scenario_distribution required")
	}
	for i := range s.Scenarios {
		sc := s.Scenarios[i]
		sc.Normalize()
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("scenario[%d] %q: %w", i, sc.Name, err)
		}
	}
	return nil
}

func (m MutationSpec) validate() error {
	if math.IsNaN(m.SplitProbability) || m.SplitProbability < 0 || m.SplitProbability > 1 {
		return fmt.Errorf("mutation.split_probability must be in [0, 1], got %g", m.SplitProbability)
	}
	if !validLeafStrategies[m.LeafStrategy] {
		return fmt.Errorf("unknown mutation.leaf_strategy %q; valid: usage, random", m.LeafStrategy)
	}
	if !validPointStrategies[m.PointStrategy] {
		return fmt.Errorf("unknown mutation.point_strategy %q; valid: midpoint, random", m.PointStrategy)
	}
	if m.ParamSigma <= 0 || math.IsNaN(m.ParamSigma) {
		return fmt.Errorf("mutation.param_sigma must be positive, got %g", m.ParamSigma)
	}
	if m.ParamBound <= 0 || math.IsNaN(m.ParamBound) {
		return fmt.Errorf("mutation.param_bound must be positive, got %g", m.ParamBound)
	}
	return nil
}

// Battery assembles the frozen scenario list: explicit scenarios first,
// then any sampled from the distribution under the training seed.
func (s *TrainSpec) Battery() ([]sim.Scenario, error) {
	battery := make([]sim.Scenario, 0, len(s.Scenarios))
	for _, sc := range s.Scenarios {
		sc.Normalize()
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		battery = append(battery, sc)
	}
	if s.ScenarioDistribution != nil {
		sampled, err := s.ScenarioDistribution.Sample(s.Seed)
		if err != nil {
			return nil, err
		}
		battery = append(battery, sampled...)
	}
	if len(battery) == 0 {
		return nil, fmt.Errorf("empty scenario battery")
	}
	return battery, nil
}

// aggregator reduces one candidate's per-scenario scores to a fitness.
type aggregator func(scores []float64) float64

// newAggregator parses "mean" or a percentile name like "p25".
func newAggregator(name string) (aggregator, error) {
	if name == "mean" {
		return meanScores, nil
	}
	if rest, ok := strings.CutPrefix(name, "p"); ok {
		pct, err := strconv.Atoi(rest)
		if err == nil && pct >= 1 && pct <= 99 {
			return percentileScores(float64(pct) / 100), nil
		}
	}
	return nil, fmt.Errorf("unknown aggregator %q; valid: mean, p1..p99", name)
}
