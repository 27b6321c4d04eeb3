package trainer

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/linear"
	"github.com/whisker-sim/whisker-sim/sim/whisker"
)

// Genome is a candidate policy plus the knowledge of how to derive new
// candidates from it. The engine treats both policy variants uniformly
// through this interface; only mutation differs per variant.
type Genome interface {
	// Policy returns the decision rule to evaluate. It must be safe for
	// concurrent read-only use across evaluation workers.
	Policy() sim.Policy
	// Instrument returns a policy view that records usage statistics
	// while the incumbent is evaluated, refreshing the weights later
	// mutations draw from. Genomes with nothing to record return nil.
	Instrument() sim.Policy
	// Mutate derives one new candidate using rng. The result shares no
	// mutable state with the receiver.
	Mutate(rng *rand.Rand) Genome
	// Complexity orders genomes for tie-breaking: fewer leaves or fewer
	// nonzero parameters win.
	Complexity() int
	// Describe returns a one-line summary for logs and results.
	Describe() string
	// Save writes the policy artifact to path.
	Save(path string) error
}

// NewGenome builds the starting genome for the configured policy kind: a
// single-leaf tree with the neutral action, or a randomly initialized
// linear policy.
func NewGenome(spec *TrainSpec) (Genome, error) {
	switch spec.Policy {
	case PolicyWhisker:
		tree, err := whisker.NewTree(spec.RootDomain, spec.ActionSpace.DefaultAction())
		if err != nil {
			return nil, err
		}
		return &TreeGenome{tree: tree, mutation: spec.Mutation, space: spec.ActionSpace}, nil
	case PolicyLinear:
		rng := rand.New(rand.NewSource(sim.DeriveSeed(spec.Seed, "linear_init")))
		policy, err := linear.NewRandom(*spec.LinearBounds, rng)
		if err != nil {
			return nil, err
		}
		return &LinearGenome{policy: policy, mutation: spec.Mutation}, nil
	}
	return nil, fmt.Errorf("unknown policy %q", spec.Policy)
}

// TreeGenome wraps a whisker tree. Split candidates clone the arena;
// action perturbations are served as one-leaf override views of the
// incumbent's tree and materialize only on adoption.
type TreeGenome struct {
	tree     *whisker.Tree
	override *whisker.Override
	counts   *whisker.Counter
	mutation MutationSpec
	space    ActionSpaceSpec
}

// Policy returns the override view when present, else the tree itself.
func (g *TreeGenome) Policy() sim.Policy {
	if g.override != nil {
		return g.override
	}
	return g.tree
}

// Tree returns the materialized tree, folding in a pending override.
// Not safe during concurrent evaluation; the engine calls it only at
// generation boundaries.
func (g *TreeGenome) Tree() *whisker.Tree {
	if g.override != nil {
		g.tree = g.override.Materialize()
		g.override = nil
	}
	return g.tree
}

// Instrument swaps in a counting view so the incumbent's evaluation
// refreshes the usage weights behind usage-directed leaf selection.
func (g *TreeGenome) Instrument() sim.Policy {
	if g.mutation.LeafStrategy != LeafByUsage {
		return nil
	}
	g.counts = whisker.NewCounter(g.Tree())
	return g.counts
}

// Mutate derives one candidate: with the configured probability a leaf
// split, otherwise a single-component action perturbation from the
// geometric step ladder.
func (g *TreeGenome) Mutate(rng *rand.Rand) Genome {
	base := g.Tree()
	leafID := g.pickLeaf(base, rng)
	if rng.Float64() < g.mutation.SplitProbability {
		if split := g.split(base, leafID, rng); split != nil {
			return split
		}
	}
	return g.perturb(base, leafID, rng)
}

// pickLeaf selects the leaf to mutate: usage-weighted when counts from an
// instrumented evaluation exist, uniform otherwise.
func (g *TreeGenome) pickLeaf(t *whisker.Tree, rng *rand.Rand) whisker.LeafID {
	leaves := t.Leaves()
	if g.mutation.LeafStrategy == LeafByUsage && g.counts != nil {
		var total int64
		weights := make([]int64, len(leaves))
		for i, id := range leaves {
			weights[i] = int64(g.counts.Count(id))
			total += weights[i]
		}
		if total > 0 {
			draw := rng.Int63n(total)
			for i, w := range weights {
				if draw < w {
					return leaves[i]
				}
				draw -= w
			}
		}
	}
	return leaves[rng.Intn(len(leaves))]
}

func (g *TreeGenome) split(base *whisker.Tree, id whisker.LeafID, rng *rand.Rand) *TreeGenome {
	leaf, err := base.Leaf(id)
	if err != nil {
		panic(err)
	}
	dim := rng.Intn(sim.NumDims)
	lo, hi := leaf.Domain.Lower.Dim(dim), leaf.Domain.Upper.Dim(dim)
	point := splitPoint(g.mutation.PointStrategy, lo, hi, rng)

	clone := base.Clone()
	if _, err := clone.Refine(id, dim, point); err != nil {
		// Degenerate extent on this dimension; the caller falls back to
		// a perturbation.
		return nil
	}
	return &TreeGenome{tree: clone, mutation: g.mutation, space: g.space}
}

// splitPoint places the split inside (lo, hi). An unbounded extent splits
// at twice the lower edge, or 1.0 from zero.
func splitPoint(strategy string, lo, hi float64, rng *rand.Rand) float64 {
	if math.IsInf(hi, 1) {
		if lo > 0 {
			return 2 * lo
		}
		return 1.0
	}
	if strategy == PointAtRandom {
		return lo + rng.Float64()*(hi-lo)
	}
	return lo + (hi-lo)/2
}

func (g *TreeGenome) perturb(base *whisker.Tree, id whisker.LeafID, rng *rand.Rand) *TreeGenome {
	leaf, err := base.Leaf(id)
	if err != nil {
		panic(err)
	}
	action := perturbAction(leaf.Action, g.space, rng)
	view, err := whisker.NewOverride(base, id, action)
	if err != nil {
		panic(err)
	}
	return &TreeGenome{tree: base, override: view, mutation: g.mutation, space: g.space}
}

// perturbAction moves one action component by a signed step from its
// ladder, clamped into the component's bounds.
func perturbAction(action sim.Action, space ActionSpaceSpec, rng *rand.Rand) sim.Action {
	component := rng.Intn(sim.NumActionComponents)
	var setting OptimizationSetting
	switch component {
	case 0:
		setting = space.WindowIncrement
	case 1:
		setting = space.WindowMultiple
	default:
		setting = space.Intersend
	}
	steps := setting.ladder()
	step := steps[rng.Intn(len(steps))]
	if rng.Intn(2) == 1 {
		step = -step
	}

	clampTo := func(v float64) float64 {
		if v < setting.Min {
			return setting.Min
		}
		if v > setting.Max {
			return setting.Max
		}
		return v
	}
	switch component {
	case 0:
		action.WindowIncrement = int32(math.Round(clampTo(float64(action.WindowIncrement) + step)))
	case 1:
		action.WindowMultiple = clampTo(action.WindowMultiple + step)
	default:
		action.IntersendSeconds = clampTo(action.IntersendSeconds + step)
	}
	return action
}

func (g *TreeGenome) Complexity() int {
	// An override never changes structure, so the backing tree's leaf
	// count is correct in both forms.
	return g.tree.NumLeaves()
}

func (g *TreeGenome) Describe() string {
	return fmt.Sprintf("whisker tree with %d leaves", g.Complexity())
}

// Save writes the tree as a DNA artifact.
func (g *TreeGenome) Save(path string) error {
	return whisker.Save(path, g.Tree())
}

// LinearGenome wraps the continuous policy. Mutation nudges a single
// parameter by a bounded Gaussian step.
type LinearGenome struct {
	policy   *linear.Policy
	mutation MutationSpec
}

func (g *LinearGenome) Policy() sim.Policy { return g.policy }

// Instrument returns nil: the linear policy has no per-region usage to
// record.
func (g *LinearGenome) Instrument() sim.Policy { return nil }

func (g *LinearGenome) Mutate(rng *rand.Rand) Genome {
	params := g.policy.Params()
	i := rng.Intn(len(params))
	v := params[i] + rng.NormFloat64()*g.mutation.ParamSigma
	if v < -g.mutation.ParamBound {
		v = -g.mutation.ParamBound
	}
	if v > g.mutation.ParamBound {
		v = g.mutation.ParamBound
	}
	params[i] = v

	clone := g.policy.Clone()
	if err := clone.SetParams(params); err != nil {
		panic(err)
	}
	return &LinearGenome{policy: clone, mutation: g.mutation}
}

func (g *LinearGenome) Complexity() int { return g.policy.Complexity() }

func (g *LinearGenome) Describe() string { return g.policy.String() }

// linearArtifact is the on-disk form of a trained linear policy.
type linearArtifact struct {
	Bounds linear.Bounds `json:"bounds"`
	Params []float64     `json:"params"`
}

// Save writes the bounds and parameters as JSON.
func (g *LinearGenome) Save(path string) error {
	data, err := json.MarshalIndent(linearArtifact{
		Bounds: g.policy.Bounds(),
		Params: g.policy.Params(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode linear policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save linear policy: %w", err)
	}
	return nil
}

// LoadLinearPolicy reads a linear policy artifact written by Save.
func LoadLinearPolicy(path string) (*linear.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load linear policy: %w", err)
	}
	var artifact linearArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, &sim.FormatError{Reason: "linear policy artifact is not valid JSON", Err: err}
	}
	policy, err := linear.New(artifact.Bounds)
	if err != nil {
		return nil, &sim.FormatError{Reason: "linear policy artifact has invalid bounds", Err: err}
	}
	if err := policy.SetParams(artifact.Params); err != nil {
		return nil, &sim.FormatError{Reason: "linear policy artifact has invalid parameters", Err: err}
	}
	return policy, nil
}
