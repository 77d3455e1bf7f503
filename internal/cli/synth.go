package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/picklr-io/appstack/internal/engine"
	"github.com/picklr-io/appstack/internal/stack"
)

var synthOutFile string

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Print the synthesized resource graph as JSON",
	Args:  cobra.NoArgs,
	RunE:  runSynth,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates the resource dependency graph in Graphviz DOT format:

  appstack graph | dot -Tpng > graph.png`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "List the supported web frameworks and their build profiles",
	Args:  cobra.NoArgs,
	RunE:  runFrameworks,
}

func init() {
	synthCmd.Flags().StringVarP(&synthOutFile, "out", "o", "", "Write the graph to a file instead of stdout")
}

func runSynth(cmd *cobra.Command, args []string) error {
	_, cfg, err := synthesize(cmd.Context())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if synthOutFile != "" {
		if err := os.WriteFile(synthOutFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", synthOutFile, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d resources to %s\n", len(cfg.Resources), synthOutFile)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	_, cfg, err := synthesize(cmd.Context())
	if err != nil {
		return err
	}
	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), dag.DOT())
	return nil
}

func runFrameworks(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tBRANCH\tPORT\tSTART COMMAND\tIMAGE")
	for _, f := range stack.Frameworks() {
		p := f.Profile()
		image := p.Image
		if image == "" {
			image = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", f.Key(), f, p.Branch, p.Port, p.StartCommand, image)
	}
	return w.Flush()
}
