package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/appstack/internal/engine"
	"github.com/picklr-io/appstack/internal/ir"
)

var (
	applyAutoApprove   bool
	destroyAutoApprove bool
	continueOnError    bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Provision the stack",
	Long: `Plans the synthesized stack against the recorded state and applies the
changes. State is written after every run, including a failed one, so the
resources that were created are not forgotten.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete every resource recorded in state",
	Args:  cobra.NoArgs,
	RunE:  runDestroy,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().StringSliceVar(&targets, "target", nil, "Limit the apply to these addresses and their dependencies")
	applyCmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep applying independent resources after a failure")
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func progress(out io.Writer) engine.ApplyCallback {
	return func(ev engine.ApplyEvent) {
		switch ev.Status {
		case "started":
			fmt.Fprintf(out, "%s: %s...\n", ev.Address, ev.Action)
		case "completed":
			fmt.Fprintf(out, "%s: %s complete after %s\n", ev.Address, ev.Action, ev.Duration.Round(time.Second))
		case "failed":
			fmt.Fprintf(out, "%s%s: %s failed: %v%s\n", colorize(colorRed), ev.Address, ev.Action, ev.Error, colorize(colorReset))
		}
	}
}

func runApply(cmd *cobra.Command, args []string) error {
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
	registry, err := newRegistry(backendName)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(registry)
	eng.ContinueOnError = continueOnError

	return withLockedState(ctx, backend, func(current *ir.State) (*ir.State, error) {
		if err := configureProviders(ctx, registry, d.Region, cfg, current); err != nil {
			return nil, err
		}
		plan, err := eng.CreatePlanWithTargets(ctx, cfg, current, targets)
		if err != nil {
			return nil, fmt.Errorf("plan generation failed: %w", err)
		}
		if pendingChanges(plan) == 0 {
			fmt.Fprintln(out, "No changes. Infrastructure is up-to-date.")
			return nil, nil
		}

		fmt.Fprintf(out, "Stack %s will perform the following actions:\n", cfg.Stack)
		renderPlanChanges(out, plan)
		renderPlanSummary(out, plan)
		if !applyAutoApprove && !confirm("Do you want to perform these actions?") {
			fmt.Fprintln(out, "Apply cancelled.")
			return nil, nil
		}

		fmt.Fprintf(out, "\nApplying %d changes...\n", pendingChanges(plan))
		next, err := eng.ApplyPlanWithCallback(ctx, plan, current, progress(out))
		if err != nil {
			return next, fmt.Errorf("apply failed: %w", err)
		}

		fmt.Fprintf(out, "\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
			plan.Summary.Create+plan.Summary.Replace, plan.Summary.Update, plan.Summary.Delete)
		renderOutputs(out, next.Outputs)
		return next, nil
	})
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	d, err := loadDeployment(ctx)
	if err != nil {
		return err
	}
	backend, err := openState(d.Region)
	if err != nil {
		return err
	}
	registry, err := newRegistry(backendName)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(registry)

	return withLockedState(ctx, backend, func(current *ir.State) (*ir.State, error) {
		if len(current.Resources) == 0 {
			fmt.Fprintln(out, "No resources in state. Nothing to destroy.")
			return nil, nil
		}
		if err := configureProviders(ctx, registry, d.Region, nil, current); err != nil {
			return nil, err
		}
		plan, err := eng.CreateDestroyPlan(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("destroy plan failed: %w", err)
		}

		renderPlanChanges(out, plan)
		fmt.Fprintf(out, "\n%d resources will be destroyed.\n", plan.Summary.Delete)
		if !destroyAutoApprove && !confirm("Destroy all resources? There is no undo.") {
			fmt.Fprintln(out, "Destroy cancelled.")
			return nil, nil
		}

		next, err := eng.ApplyPlanWithCallback(ctx, plan, current, progress(out))
		if err != nil {
			return next, fmt.Errorf("destroy failed: %w", err)
		}
		fmt.Fprintf(out, "\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Delete)
		return next, nil
	})
}
