package cmd

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/whisker-sim/whisker-sim/sim/trainer"
)

var initConfigOut string // Destination for the generated spec

// writeDefaultTrainSpec renders the default training spec as YAML. The
// output parses back under strict field checking.
func writeDefaultTrainSpec(path string) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(trainer.DefaultTrainSpec()); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// initConfigCmd writes a runnable starting configuration for train.
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default training spec to get started",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaultTrainSpec(initConfigOut); err != nil {
			logrus.Fatalf("Failed to write training spec: %v", err)
		}
		logrus.Infof("Default training spec written to %s", initConfigOut)
	},
}

func init() {
	initConfigCmd.Flags().StringVar(&initConfigOut, "out", "train.yaml", "Destination path for the training spec")
	rootCmd.AddCommand(initConfigCmd)
}
