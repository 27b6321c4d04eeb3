package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/whisker-sim/whisker-sim/sim/whisker"
)

var inspectDNAPath string // Policy artifact to describe

// inspectCmd prints the structure of a serialized decision tree.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the structure of a trained policy",
	Run: func(cmd *cobra.Command, args []string) {
		tree, err := whisker.Load(inspectDNAPath)
		if err != nil {
			logrus.Fatalf("Failed to load policy: %v", err)
		}
		fmt.Printf("artifact: %s\ndomain:   %s\nnodes:    %d\nleaves:   %d\n\n%s",
			inspectDNAPath, tree.Domain(), tree.NumNodes(), tree.NumLeaves(), tree.String())
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDNAPath, "dna", "trained.remy.dna", "Policy artifact to inspect")
	rootCmd.AddCommand(inspectCmd)
}
