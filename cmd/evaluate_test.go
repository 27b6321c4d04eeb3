package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/linear"
	"github.com/whisker-sim/whisker-sim/sim/trainer"
	"github.com/whisker-sim/whisker-sim/sim/whisker"
)

func quickEvalSpec() *trainer.TrainSpec {
	spec := trainer.DefaultTrainSpec()
	spec.Scenarios = []sim.Scenario{{
		Name:            "quick",
		LinkRatePPS:     500,
		RTTMillis:       50,
		BufferPackets:   50,
		NumFlows:        1,
		DurationSeconds: 2,
		Seed:            7,
	}}
	return spec
}

func TestLoadPolicyArtifact_DNA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.remy.dna")
	require.NoError(t, whisker.Save(path, whisker.NewDefaultTree()))

	policy, kind, err := loadPolicyArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, trainer.PolicyWhisker, kind)
	assert.IsType(t, &whisker.Tree{}, policy)
}

func TestLoadPolicyArtifact_LinearJSON(t *testing.T) {
	bounds := linear.Bounds{
		ObsLower:  sim.Observation{RTTRatio: 1},
		ObsUpper:  sim.Observation{AckEWMA: 1000, SendEWMA: 1000, RTTRatio: 17},
		MinAction: sim.Action{IntersendSeconds: 0.00025},
		MaxAction: sim.Action{WindowIncrement: 256, WindowMultiple: 1, IntersendSeconds: 0.003},
	}
	artifact := struct {
		Bounds linear.Bounds `json:"bounds"`
		Params []float64     `json:"params"`
	}{Bounds: bounds, Params: make([]float64, 12)}
	data, err := json.Marshal(artifact)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "policy.linear.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	policy, kind, err := loadPolicyArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, trainer.PolicyLinear, kind)
	assert.IsType(t, &linear.Policy{}, policy)
}

func TestLoadPolicyArtifact_Missing(t *testing.T) {
	_, _, err := loadPolicyArtifact(filepath.Join(t.TempDir(), "absent.remy.dna"))
	assert.Error(t, err)
}

func TestBuildEvaluationReport(t *testing.T) {
	spec := quickEvalSpec()
	report, err := buildEvaluationReport(spec, whisker.NewDefaultTree(), "policy.remy.dna", trainer.PolicyWhisker)
	require.NoError(t, err)

	assert.Equal(t, "policy.remy.dna", report.Artifact)
	assert.Equal(t, trainer.PolicyWhisker, report.PolicyKind)
	assert.Equal(t, "mean", report.Aggregator)
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "quick", report.Scenarios[0].Scenario)
	require.NotNil(t, report.Scenarios[0].Summary)
	assert.Positive(t, report.Scenarios[0].Summary.EventsProcessed)
	// One scenario: the aggregate is that scenario's score.
	assert.Equal(t, report.Scenarios[0].Score, report.Aggregate)
	assert.Equal(t, 1, report.Scores.Count)

	// The report must be JSON-encodable as printed.
	_, err = json.MarshalIndent(report, "", "  ")
	require.NoError(t, err)
}

func TestBuildEvaluationReport_InvalidScenario(t *testing.T) {
	spec := quickEvalSpec()
	spec.Scenarios[0].LinkRatePPS = 0

	_, err := buildEvaluationReport(spec, whisker.NewDefaultTree(), "p", trainer.PolicyWhisker)
	require.Error(t, err)
	var simErr *sim.SimulationError
	assert.ErrorAs(t, err, &simErr)
}
