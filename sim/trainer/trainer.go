package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/whisker-sim/whisker-sim/sim"
)

// GenerationStats is one history entry: the state of the search after a
// generation finished.
type GenerationStats struct {
	Generation    int     `json:"generation"`
	BestFitness   float64 `json:"best_fitness"`
	CandidateBest float64 `json:"candidate_best"`
	Improved      bool    `json:"improved"`
	Complexity    int     `json:"complexity"`
}

// Result is the outcome of one training run: the best genome found, its
// fitness, and the per-generation history.
type Result struct {
	RunID          string            `json:"run_id"`
	Policy         string            `json:"policy"`
	Seed           int64             `json:"seed"`
	Best           Genome            `json:"-"`
	BestFitness    float64           `json:"best_fitness"`
	BestComplexity int               `json:"best_complexity"`
	BestSummary    string            `json:"best_summary"`
	Scenarios      int               `json:"scenarios"`
	Generations    int               `json:"generations_run"`
	History        []GenerationStats `json:"history"`
	Converged      bool              `json:"converged"`

	// Warning is set when the generation budget ran out while fitness was
	// still improving beyond the convergence threshold.
	Warning     *sim.ConvergenceWarning `json:"-"`
	WarningText string                  `json:"warning,omitempty"`
}

// HistoryPath names the JSON history artifact written next to the policy
// at output.
func HistoryPath(output string) string {
	return output + ".history.json"
}

// WriteHistory writes the run record as indented JSON. The genome itself
// is excluded; it lands in its own artifact via Genome.Save.
func (r *Result) WriteHistory(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode training history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save training history: %w", err)
	}
	return nil
}

// Trainer drives the search: mutate the incumbent into a batch of
// candidates, score every candidate against the frozen battery in
// parallel, adopt strict improvements.
type Trainer struct {
	spec    *TrainSpec
	battery []sim.Scenario
	agg     aggregator
}

// New validates the spec and freezes the scenario battery. Every candidate
// in every generation is scored against this identical battery, which is
// what makes best fitness monotone under strict-improvement adoption.
func New(spec *TrainSpec) (*Trainer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	battery, err := spec.Battery()
	if err != nil {
		return nil, err
	}
	agg, err := newAggregator(spec.Aggregator)
	if err != nil {
		return nil, err
	}
	return &Trainer{spec: spec, battery: battery, agg: agg}, nil
}

// Battery returns the frozen scenario list.
func (t *Trainer) Battery() []sim.Scenario { return t.battery }

// Run executes the search until the generation budget, early convergence,
// or context cancellation. Cancellation is cooperative: the interrupted
// generation is abandoned (evaluations already in flight still finish) and
// the best-so-far result is returned alongside the context error. Policy
// errors (a DomainError escaping the root domain, an invalid scenario)
// abort the run with no result.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	spec := t.spec
	incumbent, err := NewGenome(spec)
	if err != nil {
		return nil, err
	}
	incumbentFitness, err := t.evaluateIncumbent(incumbent)
	if err != nil {
		return nil, err
	}
	initialFitness := incumbentFitness

	result := &Result{
		RunID:     uuid.NewString(),
		Policy:    spec.Policy,
		Seed:      spec.Seed,
		Scenarios: len(t.battery),
		History:   make([]GenerationStats, 0, spec.Generations),
	}
	logrus.Infof("[train %s] %s: %d scenarios, %d generations x %d candidates, initial fitness %.6g",
		result.RunID, spec.Policy, len(t.battery), spec.Generations, spec.BatchSize, incumbentFitness)

	var ctxErr error
	for gen := 0; gen < spec.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			logrus.Warnf("[train %s] cancelled after %d generations", result.RunID, gen)
			break
		}

		candidates := make([]Genome, spec.BatchSize)
		for i := range candidates {
			rng := newCandidateRNG(spec.Seed, gen, i)
			candidates[i] = incumbent.Mutate(rng)
		}

		scores, err := t.evaluateBatch(ctx, candidates)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				ctxErr = ctx.Err()
				logrus.Warnf("[train %s] cancelled during generation %d", result.RunID, gen)
				break
			}
			return nil, fmt.Errorf("generation %d: %w", gen, err)
		}

		best := 0
		for i := 1; i < len(candidates); i++ {
			if scores[i] > scores[best] ||
				(scores[i] == scores[best] && candidates[i].Complexity() < candidates[best].Complexity()) {
				best = i
			}
		}

		improved := scores[best] > incumbentFitness
		if improved {
			incumbent = candidates[best]
			incumbentFitness = scores[best]
			logrus.Infof("[train %s] generation %d: improved to %.6g (%s)",
				result.RunID, gen, incumbentFitness, incumbent.Describe())
			// Refresh usage weights against the new incumbent.
			if instrumented := incumbent.Instrument(); instrumented != nil {
				if _, err := t.evaluatePolicy(instrumented); err != nil {
					return nil, fmt.Errorf("generation %d: %w", gen, err)
				}
			}
		} else {
			logrus.Debugf("[train %s] generation %d: best candidate %.6g below incumbent %.6g",
				result.RunID, gen, scores[best], incumbentFitness)
		}

		result.History = append(result.History, GenerationStats{
			Generation:    gen,
			BestFitness:   incumbentFitness,
			CandidateBest: scores[best],
			Improved:      improved,
			Complexity:    incumbent.Complexity(),
		})
		result.Generations++

		if t.converged(initialFitness, result.History) {
			result.Converged = true
			logrus.Infof("[train %s] converged after %d generations", result.RunID, result.Generations)
			break
		}
	}

	result.Best = incumbent
	result.BestFitness = incumbentFitness
	result.BestComplexity = incumbent.Complexity()
	result.BestSummary = incumbent.Describe()
	if !result.Converged && ctxErr == nil {
		improvement := t.windowImprovement(initialFitness, result.History)
		result.Warning = &sim.ConvergenceWarning{
			Window:      spec.ConvergenceWindow,
			Improvement: improvement,
			Threshold:   spec.ConvergenceThreshold,
		}
		result.WarningText = result.Warning.Error()
		logrus.Warnf("[train %s] %v", result.RunID, result.Warning)
	}
	return result, ctxErr
}

// evaluateIncumbent scores the incumbent on the battery, through its
// instrumented view when it has one.
func (t *Trainer) evaluateIncumbent(g Genome) (float64, error) {
	policy := g.Policy()
	if instrumented := g.Instrument(); instrumented != nil {
		policy = instrumented
	}
	return t.evaluatePolicy(policy)
}

// evaluateBatch fans the candidates out across the worker pool. Results
// land in a pre-sized slice indexed by candidate, so fitness is identical
// regardless of worker count or scheduling.
func (t *Trainer) evaluateBatch(ctx context.Context, candidates []Genome) ([]float64, error) {
	scores := make([]float64, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers())
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			// A run in flight is never interrupted; only queued work
			// notices the cancellation.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			fitness, err := t.evaluatePolicy(candidate.Policy())
			if err != nil {
				return fmt.Errorf("candidate %d: %w", i, err)
			}
			scores[i] = fitness
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// evaluatePolicy runs every scenario in the battery and reduces the
// scores with the configured aggregator.
func (t *Trainer) evaluatePolicy(policy sim.Policy) (float64, error) {
	perScenario := make([]float64, len(t.battery))
	for i := range t.battery {
		score, _, err := sim.Evaluate(&t.battery[i], policy)
		if err != nil {
			return 0, fmt.Errorf("scenario %q: %w", t.battery[i].Name, err)
		}
		perScenario[i] = score
	}
	return t.agg(perScenario), nil
}

func (t *Trainer) workers() int {
	if t.spec.Workers > 0 {
		return t.spec.Workers
	}
	return runtime.NumCPU()
}

// converged reports whether fitness improvement over the last full
// convergence window fell below the threshold.
func (t *Trainer) converged(initialFitness float64, history []GenerationStats) bool {
	if len(history) < t.spec.ConvergenceWindow {
		return false
	}
	return t.windowImprovement(initialFitness, history) < t.spec.ConvergenceThreshold
}

// windowImprovement measures the fitness gained across the trailing
// convergence window (or the whole run while shorter than one window).
func (t *Trainer) windowImprovement(initialFitness float64, history []GenerationStats) float64 {
	if len(history) == 0 {
		return 0
	}
	current := history[len(history)-1].BestFitness
	before := initialFitness
	if idx := len(history) - t.spec.ConvergenceWindow - 1; idx >= 0 {
		before = history[idx].BestFitness
	}
	return current - before
}

func newCandidateRNG(seed int64, generation, index int) *rand.Rand {
	name := fmt.Sprintf("generation_%d_candidate_%d", generation, index)
	return rand.New(rand.NewSource(sim.DeriveSeed(seed, name)))
}

// Aggregate reduces per-scenario scores with the named aggregator
// ("mean" or a percentile such as "p25").
func Aggregate(name string, scores []float64) (float64, error) {
	agg, err := newAggregator(name)
	if err != nil {
		return 0, err
	}
	return agg(scores), nil
}

func meanScores(scores []float64) float64 {
	return stat.Mean(scores, nil)
}

// percentileScores aggregates with the q-th quantile, a pessimistic
// reduction that optimizes the worst scenarios rather than the average.
func percentileScores(q float64) aggregator {
	return func(scores []float64) float64 {
		sorted := append([]float64(nil), scores...)
		sort.Float64s(sorted)
		return stat.Quantile(q, stat.Empirical, sorted, nil)
	}
}
