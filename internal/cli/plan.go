package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picklr-io/appstack/internal/engine"
)

var (
	planOutFile string
	targets     []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate an execution plan",
	Long: `Compares the synthesized stack with the recorded state and shows the
resources that would be created, updated, replaced or deleted.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan as JSON to a file")
	planCmd.Flags().StringSliceVar(&targets, "target", nil, "Limit planning to these addresses and their dependencies")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	d, cfg, err := synthesize(ctx)
	if err != nil {
		return err
	}
	backend, err := openState(d.Region)
	if err != nil {
		return err
	}
	current, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	registry, err := newRegistry(backendName)
	if err != nil {
		return err
	}
	if err := configureProviders(ctx, registry, d.Region, cfg, current); err != nil {
		return err
	}

	plan, err := engine.NewEngine(registry).CreatePlanWithTargets(ctx, cfg, current, targets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if pendingChanges(plan) == 0 {
		fmt.Fprintln(out, "No changes. Infrastructure is up-to-date.")
	} else {
		fmt.Fprintf(out, "Stack %s will perform the following actions:\n", cfg.Stack)
		renderPlanChanges(out, plan)
		renderPlanSummary(out, plan)
	}

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Fprintf(out, "\nPlan saved to %s\n", planOutFile)
	}
	return nil
}
