package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func actionStyle(action string) (symbol, color string) {
	switch action {
	case "CREATE":
		return "+", colorize(colorGreen)
	case "DELETE":
		return "-", colorize(colorRed)
	case "REPLACE":
		return "-/+", colorize(colorYellow)
	case "UPDATE":
		return "~", colorize(colorYellow)
	default:
		return " ", ""
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(out io.Writer, plan *ir.Plan) {
	reset := colorize(colorReset)
	for _, change := range plan.Changes {
		if change.Action == "NOOP" {
			continue
		}
		symbol, color := actionStyle(change.Action)

		res := change.Desired
		if res == nil {
			res = change.Prior
		}
		fmt.Fprintf(out, "\n%s  # %s will be %s%s\n", color, change.Address, change.Action, reset)
		if res == nil {
			continue
		}
		fmt.Fprintf(out, "%s  %s resource %q %q {%s\n", color, symbol, res.Type, res.Name, reset)

		switch {
		case len(change.Diff) > 0:
			renderPropertyDiff(out, change.Diff)
		case change.Action == "CREATE" && change.Desired != nil:
			for _, k := range slices.Sorted(maps.Keys(change.Desired.Properties)) {
				fmt.Fprintf(out, "%s      + %s = %s%s\n", color, k, formatValue(change.Desired.Properties[k]), reset)
			}
		case change.Action == "DELETE" && change.Prior != nil:
			for _, k := range slices.Sorted(maps.Keys(change.Prior.Properties)) {
				fmt.Fprintf(out, "%s      - %s = %s%s\n", color, k, formatValue(change.Prior.Properties[k]), reset)
			}
		default:
			fmt.Fprintf(out, "      ...\n")
		}
		fmt.Fprintf(out, "%s    }%s\n", color, reset)
	}
}

// renderPropertyDiff prints structured property diffs in key order.
func renderPropertyDiff(out io.Writer, diff map[string]*ir.PropertyDiff) {
	reset := colorize(colorReset)
	for _, key := range slices.Sorted(maps.Keys(diff)) {
		d := diff[key]
		before, after := formatValue(d.Before), formatValue(d.After)
		if d.Sensitive {
			before, after = "(sensitive)", "(sensitive)"
		}
		switch d.Action {
		case "create":
			fmt.Fprintf(out, "%s      + %s = %s%s\n", colorize(colorGreen), key, after, reset)
		case "delete":
			fmt.Fprintf(out, "%s      - %s = %s%s\n", colorize(colorRed), key, before, reset)
		case "update":
			suffix := ""
			if d.ForcesReplacement {
				suffix = " # forces replacement"
			}
			fmt.Fprintf(out, "%s      ~ %s = %s -> %s%s%s\n", colorize(colorYellow), key, before, after, suffix, reset)
		default:
			fmt.Fprintf(out, "        %s = %s\n", key, after)
		}
	}
}

// formatValue returns a compact JSON-ish rendering of a property value.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func renderPlanSummary(out io.Writer, plan *ir.Plan) {
	fmt.Fprintln(out, "\nPlan Summary:")
	fmt.Fprintf(out, "  Create:  %d\n", plan.Summary.Create)
	fmt.Fprintf(out, "  Update:  %d\n", plan.Summary.Update)
	fmt.Fprintf(out, "  Delete:  %d\n", plan.Summary.Delete)
	fmt.Fprintf(out, "  Replace: %d\n", plan.Summary.Replace)
	fmt.Fprintf(out, "  NoOp:    %d\n", plan.Summary.NoOp)
}

// pendingChanges counts the changes a plan would actually make.
func pendingChanges(plan *ir.Plan) int {
	s := plan.Summary
	return s.Create + s.Update + s.Delete + s.Replace
}

func renderOutputs(out io.Writer, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	fmt.Fprintln(out, "\nOutputs:")
	for _, k := range slices.Sorted(maps.Keys(outputs)) {
		fmt.Fprintf(out, "  %s = %s\n", k, formatValue(outputs[k]))
	}
}
