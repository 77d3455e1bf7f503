package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values from state",
	Long: `Reads the resolved outputs of the last apply: the database host and
port, the SSM tunnel command and, when the stack has one, the API URL.

With a name, only that output's value is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
}

func runOutput(cmd *cobra.Command, args []string) error {
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
	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(args) > 0 {
		val, ok := s.Outputs[args[0]]
		if !ok {
			return fmt.Errorf("output %q not found", args[0])
		}
		if outputJSON {
			data, err := json.Marshal(val)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintln(out, val)
		}
		return nil
	}

	if len(s.Outputs) == 0 {
		fmt.Fprintln(out, "No outputs defined.")
		return nil
	}
	if outputJSON {
		data, err := json.MarshalIndent(s.Outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	for _, k := range slices.Sorted(maps.Keys(s.Outputs)) {
		fmt.Fprintf(out, "%s = %v\n", k, s.Outputs[k])
	}
	return nil
}
