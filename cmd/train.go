package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/whisker-sim/whisker-sim/sim/trainer"
)

var (
	trainConfigPath string // Training spec YAML
	trainOutputPath string // Policy artifact path, overrides the spec
	trainSeed       int64  // Global seed, overrides the spec
)

// trainCmd runs the search engine against the configured battery and
// writes the best policy plus its generation history.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Search for a policy against the configured scenario battery",
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := trainer.LoadTrainSpec(trainConfigPath)
		if err != nil {
			logrus.Fatalf("Failed to load training spec: %v", err)
		}
		if cmd.Flags().Changed("seed") {
			spec.Seed = trainSeed
		}
		if trainOutputPath != "" {
			spec.Output = trainOutputPath
		}
		if spec.Output == "" {
			spec.Output = "trained.remy.dna"
		}

		tr, err := trainer.New(spec)
		if err != nil {
			logrus.Fatalf("Invalid training spec: %v", err)
		}

		// Interrupts abandon the generation in progress; the best policy
		// found so far is still written out.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		startTime := time.Now()
		result, err := tr.Run(ctx)
		if result == nil {
			logrus.Fatalf("Training failed: %v", err)
		}
		if err != nil {
			logrus.Warnf("Training interrupted: %v", err)
		}

		if err := result.Best.Save(spec.Output); err != nil {
			logrus.Fatalf("Failed to save policy: %v", err)
		}
		historyPath := trainer.HistoryPath(spec.Output)
		if err := result.WriteHistory(historyPath); err != nil {
			logrus.Fatalf("Failed to save history: %v", err)
		}
		logrus.Infof("Training finished in %s: fitness %.6g after %d generations (%s)",
			time.Since(startTime).Round(time.Millisecond), result.BestFitness, result.Generations, result.BestSummary)
		logrus.Infof("Policy written to %s, history to %s", spec.Output, historyPath)
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainConfigPath, "config", "train.yaml", "Training spec YAML path")
	trainCmd.Flags().StringVar(&trainOutputPath, "out", "", "Policy artifact output path (overrides the spec)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Global training seed (overrides the spec)")
	rootCmd.AddCommand(trainCmd)
}
