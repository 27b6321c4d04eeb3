package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/trainer"
	"github.com/whisker-sim/whisker-sim/sim/whisker"
)

var (
	evaluateArtifactPath string // Trained policy artifact
	evaluateConfigPath   string // Training spec supplying the battery
)

// scenarioReport carries one scenario's score and run summary.
type scenarioReport struct {
	Scenario string          `json:"scenario"`
	Score    float64         `json:"score"`
	Summary  *sim.RunSummary `json:"summary"`
}

// evaluationReport is the JSON document the evaluate command prints.
type evaluationReport struct {
	Artifact   string           `json:"artifact"`
	PolicyKind string           `json:"policy_kind"`
	Aggregator string           `json:"aggregator"`
	Aggregate  float64          `json:"aggregate_score"`
	Scores     sim.Distribution `json:"score_distribution"`
	Scenarios  []scenarioReport `json:"scenarios"`
}

// loadPolicyArtifact picks the decoder by extension: .json holds a linear
// policy, everything else is a DNA tree.
func loadPolicyArtifact(path string) (sim.Policy, string, error) {
	if strings.HasSuffix(path, ".json") {
		policy, err := trainer.LoadLinearPolicy(path)
		if err != nil {
			return nil, "", err
		}
		return policy, trainer.PolicyLinear, nil
	}
	tree, err := whisker.Load(path)
	if err != nil {
		return nil, "", err
	}
	return tree, trainer.PolicyWhisker, nil
}

// buildEvaluationReport scores the policy on every battery scenario.
func buildEvaluationReport(spec *trainer.TrainSpec, policy sim.Policy, artifact, kind string) (*evaluationReport, error) {
	battery, err := spec.Battery()
	if err != nil {
		return nil, err
	}
	report := &evaluationReport{
		Artifact:   artifact,
		PolicyKind: kind,
		Aggregator: spec.Aggregator,
		Scenarios:  make([]scenarioReport, 0, len(battery)),
	}
	scores := make([]float64, 0, len(battery))
	for i := range battery {
		score, summary, err := sim.Evaluate(&battery[i], policy)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", battery[i].Name, err)
		}
		report.Scenarios = append(report.Scenarios, scenarioReport{
			Scenario: battery[i].Name,
			Score:    score,
			Summary:  summary,
		})
		scores = append(scores, score)
	}
	report.Aggregate, err = trainer.Aggregate(spec.Aggregator, scores)
	if err != nil {
		return nil, err
	}
	report.Scores = sim.NewDistribution(scores)
	return report, nil
}

// evaluateCmd scores a trained policy against the battery from a
// training spec and prints the report as JSON.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a trained policy against a scenario battery",
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := trainer.LoadTrainSpec(evaluateConfigPath)
		if err != nil {
			logrus.Fatalf("Failed to load training spec: %v", err)
		}
		policy, kind, err := loadPolicyArtifact(evaluateArtifactPath)
		if err != nil {
			logrus.Fatalf("Failed to load policy: %v", err)
		}

		report, err := buildEvaluationReport(spec, policy, evaluateArtifactPath, kind)
		if err != nil {
			logrus.Fatalf("Evaluation failed: %v", err)
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logrus.Fatalf("Failed to encode report: %v", err)
		}
		fmt.Println(string(data))
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateArtifactPath, "dna", "trained.remy.dna", "Trained policy artifact (.remy.dna, or .json for linear)")
	evaluateCmd.Flags().StringVar(&evaluateConfigPath, "config", "train.yaml", "Training spec YAML supplying the battery")
	rootCmd.AddCommand(evaluateCmd)
}
