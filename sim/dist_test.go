package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValueSampler_Constant(t *testing.T) {
	s, err := NewValueSampler(DistSpec{Type: "constant", Params: map[string]float64{"value": 42.5}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5; i++ {
		assert.Equal(t, 42.5, s.Sample(rng))
	}
}

func TestNewValueSampler_UniformStaysInRange(t *testing.T) {
	s, err := NewValueSampler(DistSpec{Type: "uniform", Params: map[string]float64{"min": 10, "max": 20}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		v := s.Sample(rng)
		if v < 10 || v >= 20 {
			t.Fatalf("uniform sample %v outside [10, 20)", v)
		}
	}
}

func TestNewValueSampler_GaussianClamps(t *testing.T) {
	s, err := NewValueSampler(DistSpec{Type: "gaussian", Params: map[string]float64{
		"mean": 50, "std_dev": 100, "min": 40, "max": 60,
	}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	clamped := 0
	for i := 0; i < 1000; i++ {
		v := s.Sample(rng)
		require.GreaterOrEqual(t, v, 40.0)
		require.LessOrEqual(t, v, 60.0)
		if v == 40.0 || v == 60.0 {
			clamped++
		}
	}
	// With std_dev 100 on a 20-wide box most draws hit the walls.
	assert.Greater(t, clamped, 500)
}

func TestNewValueSampler_GaussianDegenerateRange(t *testing.T) {
	s, err := NewValueSampler(DistSpec{Type: "gaussian", Params: map[string]float64{
		"mean": 5, "std_dev": 1, "min": 7, "max": 7,
	}})
	require.NoError(t, err)
	assert.Equal(t, 7.0, s.Sample(rand.New(rand.NewSource(1))))
}

func TestNewValueSampler_ExponentialMean(t *testing.T) {
	s, err := NewValueSampler(DistSpec{Type: "exponential", Params: map[string]float64{"mean": 3.0}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	sum := 0.0
	const n = 20_000
	for i := 0; i < n; i++ {
		sum += s.Sample(rng)
	}
	assert.InDelta(t, 3.0, sum/n, 0.1)
}

func TestNewValueSampler_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec DistSpec
		want string
	}{
		{"unknown type", DistSpec{Type: "zipf"}, `unknown distribution type "zipf"`},
		{"constant missing value", DistSpec{Type: "constant"}, `requires parameter "value"`},
		{"uniform missing max", DistSpec{Type: "uniform", Params: map[string]float64{"min": 1}}, `requires parameter "max"`},
		{"uniform inverted", DistSpec{Type: "uniform", Params: map[string]float64{"min": 5, "max": 1}}, "min <= max"},
		{"gaussian missing std_dev", DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 1, "min": 0, "max": 2}}, `requires parameter "std_dev"`},
		{"exponential missing mean", DistSpec{Type: "exponential"}, `requires parameter "mean"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValueSampler(tt.spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
