// Package linear provides the continuous policy variant: an affine map from
// normalized observations to actions, the smooth counterpart to the whisker
// tree.
package linear

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/whisker-sim/whisker-sim/sim"
)

// numParams is the flattened parameter count: one weight row per action
// component over the observation dimensions, plus one bias per component.
const numParams = sim.NumActionComponents*sim.NumDims + sim.NumActionComponents

// initSigma is the standard deviation of randomly initialized parameters.
const initSigma = 0.1

// Bounds couples the observation box used to normalize inputs with the
// action box the outputs are mapped into. Observations are clamped into
// the box before normalization; this policy has no uncovered region.
type Bounds struct {
	ObsLower sim.Observation `yaml:"obs_lower" json:"obs_lower"`
	ObsUpper sim.Observation `yaml:"obs_upper" json:"obs_upper"`

	MinAction sim.Action `yaml:"min_action" json:"min_action"`
	MaxAction sim.Action `yaml:"max_action" json:"max_action"`
}

// Validate checks that both boxes have positive extent where it matters.
func (b Bounds) Validate() error {
	for d := 0; d < sim.NumDims; d++ {
		lo, hi := b.ObsLower.Dim(d), b.ObsUpper.Dim(d)
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return fmt.Errorf("observation box must be finite on dimension %d", d)
		}
		if lo >= hi {
			return fmt.Errorf("observation box empty on dimension %d: [%g, %g]", d, lo, hi)
		}
	}
	if b.MinAction.WindowIncrement > b.MaxAction.WindowIncrement {
		return fmt.Errorf("action box inverted on window increment: %d > %d",
			b.MinAction.WindowIncrement, b.MaxAction.WindowIncrement)
	}
	if b.MinAction.WindowMultiple > b.MaxAction.WindowMultiple {
		return fmt.Errorf("action box inverted on window multiple: %g > %g",
			b.MinAction.WindowMultiple, b.MaxAction.WindowMultiple)
	}
	if b.MinAction.IntersendSeconds > b.MaxAction.IntersendSeconds {
		return fmt.Errorf("action box inverted on intersend: %g > %g",
			b.MinAction.IntersendSeconds, b.MaxAction.IntersendSeconds)
	}
	if b.MinAction.IntersendSeconds < 0 {
		return fmt.Errorf("intersend lower bound must be non-negative, got %g",
			b.MinAction.IntersendSeconds)
	}
	return nil
}

// Policy is an affine decision rule. The observation is normalized into
// [-1,1]^3 against the observation box, pushed through y = clamp(Wx+b, -1, 1),
// and y is mapped into the action box, rounding the increment component to
// the nearest integer.
type Policy struct {
	bounds  Bounds
	weights *mat.Dense
	bias    *mat.VecDense
}

// New returns a zero-parameter policy: every observation maps to the
// center of the action box.
func New(bounds Bounds) (*Policy, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &Policy{
		bounds:  bounds,
		weights: mat.NewDense(sim.NumActionComponents, sim.NumDims, nil),
		bias:    mat.NewVecDense(sim.NumActionComponents, nil),
	}, nil
}

// NewRandom returns a policy with parameters drawn i.i.d. from N(0, 0.1).
func NewRandom(bounds Bounds, rng *rand.Rand) (*Policy, error) {
	p, err := New(bounds)
	if err != nil {
		return nil, err
	}
	params := make([]float64, numParams)
	for i := range params {
		params[i] = rng.NormFloat64() * initSigma
	}
	if err := p.SetParams(params); err != nil {
		return nil, err
	}
	return p, nil
}

// Act implements sim.Policy. It is pure and safe for concurrent use.
func (p *Policy) Act(obs sim.Observation, _ uint32) (sim.Action, error) {
	x := mat.NewVecDense(sim.NumDims, nil)
	for d := 0; d < sim.NumDims; d++ {
		lo, hi := p.bounds.ObsLower.Dim(d), p.bounds.ObsUpper.Dim(d)
		x.SetVec(d, clamp(2*(obs.Dim(d)-lo)/(hi-lo)-1, -1, 1))
	}

	y := mat.NewVecDense(sim.NumActionComponents, nil)
	y.MulVec(p.weights, x)
	y.AddVec(y, p.bias)

	min, max := p.bounds.MinAction, p.bounds.MaxAction
	incr := denormalize(y.AtVec(0), float64(min.WindowIncrement), float64(max.WindowIncrement))
	return sim.Action{
		WindowIncrement:  int32(math.Round(incr)),
		WindowMultiple:   denormalize(y.AtVec(1), min.WindowMultiple, max.WindowMultiple),
		IntersendSeconds: denormalize(y.AtVec(2), min.IntersendSeconds, max.IntersendSeconds),
	}, nil
}

// denormalize maps y from [-1,1] into [lo, hi], clamping first.
func denormalize(y, lo, hi float64) float64 {
	return lo + (clamp(y, -1, 1)+1)/2*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Bounds returns the policy's observation and action boxes.
func (p *Policy) Bounds() Bounds { return p.bounds }

// Params returns the flattened parameters: the weight matrix in row-major
// order followed by the biases.
func (p *Policy) Params() []float64 {
	params := make([]float64, 0, numParams)
	params = append(params, p.weights.RawMatrix().Data...)
	params = append(params, p.bias.RawVector().Data...)
	return params
}

// SetParams replaces all parameters from a flattened slice.
func (p *Policy) SetParams(params []float64) error {
	if len(params) != numParams {
		return fmt.Errorf("expected %d parameters, got %d", numParams, len(params))
	}
	weightLen := sim.NumActionComponents * sim.NumDims
	p.weights = mat.NewDense(sim.NumActionComponents, sim.NumDims, append([]float64(nil), params[:weightLen]...))
	p.bias = mat.NewVecDense(sim.NumActionComponents, append([]float64(nil), params[weightLen:]...))
	return nil
}

// Clone returns an independent copy.
func (p *Policy) Clone() *Policy {
	clone, err := New(p.bounds)
	if err != nil {
		panic(err)
	}
	if err := clone.SetParams(p.Params()); err != nil {
		panic(err)
	}
	return clone
}

// Complexity counts nonzero parameters, the tie-breaking complexity
// measure during selection.
func (p *Policy) Complexity() int {
	nonzero := 0
	for _, v := range p.Params() {
		if v != 0 {
			nonzero++
		}
	}
	return nonzero
}

func (p *Policy) String() string {
	return fmt.Sprintf("linear policy: %d/%d nonzero parameters", p.Complexity(), numParams)
}
