package trainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/linear"
)

func writeSpecFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultTrainSpec_Valid(t *testing.T) {
	spec := DefaultTrainSpec()
	require.NoError(t, spec.Validate())

	battery, err := spec.Battery()
	require.NoError(t, err)
	assert.Len(t, battery, 1)
	assert.Equal(t, "baseline", battery[0].Name)
}

func TestLoadTrainSpec_ParsesFields(t *testing.T) {
	path := writeSpecFile(t, `
policy: whisker
seed: 42
generations: 5
batch_size: 4
convergence_window: 3
convergence_threshold: 0.01
aggregator: p25
mutation:
  split_probability: 0.5
  leaf_strategy: random
  point_strategy: random
  param_sigma: 0.1
  param_bound: 2
action_space:
  window_increment: {min: 0, max: 256, initial_change: 1, max_change: 32, multiplier: 4, default: 1}
  window_multiple: {min: 0, max: 1, initial_change: 0.01, max_change: 0.5, multiplier: 4, default: 1}
  intersend_s: {min: 0.00025, max: 0.003, initial_change: 0.00005, max_change: 0.001, multiplier: 4, default: 0.003}
root_domain:
  lower: {ack_ewma_ms: 0, send_ewma_ms: 0, rtt_ratio: 0}
  upper: {ack_ewma_ms: 163840, send_ewma_ms: 163840, rtt_ratio: 163840}
scenarios:
  - name: narrow
    link_rate_pps: 500
    rtt_ms: 50
    buffer_packets: 100
    num_flows: 1
    duration_s: 2
    seed: 7
output: out.remy.dna
`)
	spec, err := LoadTrainSpec(path)
	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, PolicyWhisker, spec.Policy)
	assert.Equal(t, int64(42), spec.Seed)
	assert.Equal(t, 5, spec.Generations)
	assert.Equal(t, "p25", spec.Aggregator)
	assert.Equal(t, "random", spec.Mutation.LeafStrategy)
	assert.Equal(t, float64(163840), spec.RootDomain.Upper.RTTRatio)
	require.Len(t, spec.Scenarios, 1)
	assert.Equal(t, "narrow", spec.Scenarios[0].Name)
	assert.Equal(t, "out.remy.dna", spec.Output)
}

func TestLoadTrainSpec_RejectsUnknownKeys(t *testing.T) {
	path := writeSpecFile(t, "policy: whisker\nturbo_mode: true\n")
	_, err := LoadTrainSpec(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing training spec")
}

func TestLoadTrainSpec_MissingFile(t *testing.T) {
	_, err := LoadTrainSpec(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestTrainSpec_Validate_Rejections mutates a valid spec one field at a
// time and checks each is caught.
func TestTrainSpec_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TrainSpec)
		want   string
	}{
		{"unknown policy", func(s *TrainSpec) { s.Policy = "oracle" }, "unknown policy"},
		{"zero generations", func(s *TrainSpec) { s.Generations = 0 }, "generations"},
		{"zero batch", func(s *TrainSpec) { s.BatchSize = 0 }, "batch_size"},
		{"negative workers", func(s *TrainSpec) { s.Workers = -1 }, "workers"},
		{"zero window", func(s *TrainSpec) { s.ConvergenceWindow = 0 }, "convergence_window"},
		{"negative threshold", func(s *TrainSpec) { s.ConvergenceThreshold = -1 }, "convergence_threshold"},
		{"bad aggregator", func(s *TrainSpec) { s.Aggregator = "median" }, "unknown aggregator"},
		{"p0 aggregator", func(s *TrainSpec) { s.Aggregator = "p0" }, "unknown aggregator"},
		{"p100 aggregator", func(s *TrainSpec) { s.Aggregator = "p100" }, "unknown aggregator"},
		{"split probability", func(s *TrainSpec) { s.Mutation.SplitProbability = 1.5 }, "split_probability"},
		{"leaf strategy", func(s *TrainSpec) { s.Mutation.LeafStrategy = "hottest" }, "leaf_strategy"},
		{"point strategy", func(s *TrainSpec) { s.Mutation.PointStrategy = "golden" }, "point_strategy"},
		{"inverted setting", func(s *TrainSpec) {
			s.ActionSpace.WindowIncrement.Min = 300
		}, "min 300 exceeds max"},
		{"default outside box", func(s *TrainSpec) {
			s.ActionSpace.WindowMultiple.Default = 2
		}, "outside"},
		{"flat multiplier", func(s *TrainSpec) {
			s.ActionSpace.Intersend.Multiplier = 1
		}, "multiplier"},
		{"empty root domain", func(s *TrainSpec) {
			s.RootDomain.Upper.RTTRatio = 0
		}, "root_domain empty"},
		{"no scenarios", func(s *TrainSpec) {
			s.Scenarios = nil
			s.ScenarioDistribution = nil
		}, "at least one scenario"},
		{"bad scenario", func(s *TrainSpec) {
			s.Scenarios[0].LinkRatePPS = 0
		}, "scenario[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := DefaultTrainSpec()
			tc.mutate(spec)
			err := spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTrainSpec_Validate_LinearNeedsBounds(t *testing.T) {
	spec := DefaultTrainSpec()
	spec.Policy = PolicyLinear
	err := spec.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linear_bounds")

	spec.LinearBounds = &linear.Bounds{
		ObsLower:  sim.Observation{AckEWMA: 0, SendEWMA: 0, RTTRatio: 1},
		ObsUpper:  sim.Observation{AckEWMA: 1000, SendEWMA: 1000, RTTRatio: 17},
		MinAction: sim.Action{WindowIncrement: 0, WindowMultiple: 0, IntersendSeconds: 0.00025},
		MaxAction: sim.Action{WindowIncrement: 256, WindowMultiple: 1, IntersendSeconds: 0.003},
	}
	assert.NoError(t, spec.Validate())
}

func TestOptimizationSetting_Ladder(t *testing.T) {
	space := DefaultActionSpace()
	assert.Equal(t, []float64{1, 4, 16}, space.WindowIncrement.ladder())
	assert.Equal(t, []float64{0.01, 0.04, 0.16}, space.WindowMultiple.ladder())

	ladder := space.Intersend.ladder()
	require.Len(t, ladder, 3)
	assert.InDelta(t, 0.00005, ladder[0], 1e-12)
	assert.InDelta(t, 0.0008, ladder[2], 1e-12)
}

func TestNewAggregator(t *testing.T) {
	scores := []float64{3, 1, 2}

	mean, err := newAggregator("mean")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mean(scores), 1e-12)

	p50, err := newAggregator("p50")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, p50(scores), 1e-12)
	// The input must survive aggregation untouched.
	assert.Equal(t, []float64{3, 1, 2}, scores)

	p1, err := newAggregator("p1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p1(scores), 0.1)

	for _, bad := range []string{"", "p", "px", "p0", "p100", "max"} {
		_, err := newAggregator(bad)
		assert.Error(t, err, "aggregator %q", bad)
	}
}

// TestTrainSpec_Battery_SampledDeterminism checks that a distribution
// battery is identical across calls under the same seed.
func TestTrainSpec_Battery_SampledDeterminism(t *testing.T) {
	spec := DefaultTrainSpec()
	spec.Scenarios = nil
	spec.ScenarioDistribution = &sim.ScenarioDistribution{
		Count:           4,
		LinkRatePPS:     sim.DistSpec{Type: "uniform", Params: map[string]float64{"min": 100, "max": 2000}},
		RTTMillis:       sim.DistSpec{Type: "uniform", Params: map[string]float64{"min": 20, "max": 200}},
		BufferPackets:   &sim.DistSpec{Type: "constant", Params: map[string]float64{"value": 100}},
		NumFlows:        sim.DistSpec{Type: "constant", Params: map[string]float64{"value": 2}},
		DurationSeconds: sim.DistSpec{Type: "constant", Params: map[string]float64{"value": 2}},
	}
	require.NoError(t, spec.Validate())

	first, err := spec.Battery()
	require.NoError(t, err)
	second, err := spec.Battery()
	require.NoError(t, err)

	require.Len(t, first, 4)
	assert.Equal(t, first, second)

	// A different training seed draws a different battery.
	spec.Seed = 99
	third, err := spec.Battery()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
