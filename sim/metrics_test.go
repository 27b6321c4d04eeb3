package sim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDistribution_Empty(t *testing.T) {
	d := NewDistribution(nil)
	assert.Equal(t, Distribution{}, d)
}

func TestNewDistribution_Constant(t *testing.T) {
	d := NewDistribution([]float64{4, 4, 4, 4})
	assert.Equal(t, 4.0, d.Mean)
	assert.Equal(t, 4.0, d.P50)
	assert.Equal(t, 4.0, d.P95)
	assert.Equal(t, 4.0, d.P99)
	assert.Equal(t, 4.0, d.Min)
	assert.Equal(t, 4.0, d.Max)
	assert.Equal(t, 4, d.Count)
}

func TestNewDistribution_Varied(t *testing.T) {
	values := []float64{5, 1, 3, 2, 4}
	d := NewDistribution(values)

	assert.Equal(t, 3.0, d.Mean)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)
	assert.Equal(t, 5, d.Count)
	assert.GreaterOrEqual(t, d.P95, d.P50)
	assert.GreaterOrEqual(t, d.P99, d.P95)

	// Input order is preserved; NewDistribution sorts a copy.
	assert.Equal(t, []float64{5, 1, 3, 2, 4}, values)
}

func TestRunSummary_MetricCollectors(t *testing.T) {
	r := &RunSummary{Flows: []FlowSummary{
		{Throughput: 100, MeanRTTMillis: 50},
		{Throughput: 200, MeanRTTMillis: 75},
	}}
	assert.Equal(t, []float64{100, 200}, r.Throughputs())
	assert.Equal(t, []float64{50, 75}, r.MeanRTTs())
}

func TestRunSummary_JSONFieldNames(t *testing.T) {
	r := &RunSummary{
		Scenario:        "baseline",
		Flows:           []FlowSummary{{FlowID: 0, Throughput: 10}},
		EventsProcessed: 99,
		PolicyConsults:  7,
	}
	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "scenario")
	assert.Contains(t, decoded, "events_processed")
	assert.Contains(t, decoded, "policy_consults")

	flows, ok := decoded["flows"].([]any)
	require.True(t, ok)
	require.Len(t, flows, 1)
	assert.Contains(t, flows[0].(map[string]any), "throughput_pps")
}
