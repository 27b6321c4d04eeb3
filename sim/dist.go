package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// DistSpec parameterizes a scalar distribution for scenario sampling.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// ValueSampler draws scenario parameter values.
type ValueSampler interface {
	Sample(rng *rand.Rand) float64
}

// ConstantSampler always returns the same fixed value.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 { return s.value }

// UniformSampler draws uniformly from [min, max).
type UniformSampler struct {
	min, max float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	return s.min + rng.Float64()*(s.max-s.min)
}

// GaussianSampler draws from a clamped Gaussian.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     float64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) float64 {
	if s.min == s.max {
		return s.min
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	return math.Min(s.max, math.Max(s.min, val))
}

// ExponentialSampler draws exponentially distributed values with the given
// mean.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewValueSampler creates a ValueSampler from a DistSpec.
func NewValueSampler(spec DistSpec) (ValueSampler, error) {
	switch spec.Type {
	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: spec.Params["value"]}, nil

	case "uniform":
		if err := requireParam(spec.Params, "min", "max"); err != nil {
			return nil, err
		}
		min, max := spec.Params["min"], spec.Params["max"]
		if max < min {
			return nil, fmt.Errorf("uniform distribution requires min <= max, got [%g, %g)", min, max)
		}
		return &UniformSampler{min: min, max: max}, nil

	case "gaussian":
		if err := requireParam(spec.Params, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		return &GaussianSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			min:    spec.Params["min"],
			max:    spec.Params["max"],
		}, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: spec.Params["mean"]}, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
