package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the deployment and synthesize its resource graph",
	Long: `Loads the deployment, assembles the stack and runs the synthesis checks:
no dangling references, no secrets in outputs and an acyclic graph.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	d, cfg, err := synthesize(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: stack %s, layout %s, %d resources, %d outputs.\n",
		cfg.Stack, d.Layout, len(cfg.Resources), len(cfg.Outputs))
	return nil
}
