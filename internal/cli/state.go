package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/picklr-io/appstack/internal/ir"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show inputs and outputs of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
}

func readState(cmd *cobra.Command) (*ir.State, error) {
	d, err := loadDeployment(cmd.Context())
	if err != nil {
		return nil, err
	}
	backend, err := openState(d.Region)
	if err != nil {
		return nil, err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return s, nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	s, err := readState(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(s.Resources) == 0 {
		fmt.Fprintln(out, "No resources in state.")
		return nil
	}
	for _, res := range s.Resources {
		fmt.Fprintln(out, res.Addr())
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	s, err := readState(cmd)
	if err != nil {
		return err
	}
	addr := args[0]
	for _, res := range s.Resources {
		if res.Addr() != addr {
			continue
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	var known []string
	for _, res := range s.Resources {
		if strings.HasSuffix(res.Addr(), "."+addr) {
			known = append(known, res.Addr())
		}
	}
	if len(known) > 0 {
		return fmt.Errorf("resource %q not found in state; did you mean %s?", addr, strings.Join(known, ", "))
	}
	return fmt.Errorf("resource %q not found in state", addr)
}
