// Package cli implements the appstack command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/picklr-io/appstack/internal/logging"
)

// Backends selectable with --backend.
const (
	BackendAWS  = "aws"
	BackendNull = "null"
)

var (
	configPath    string
	logLevel      string
	logFormat     string
	backendName   string
	stateLocation string
	properties    map[string]string
	noColor       bool
)

var rootCmd = &cobra.Command{
	Use:   "appstack",
	Short: "Compose and provision a web application stack on AWS",
	Long: `appstack turns a small deployment file into a networked AWS application:
a VPC, a PostgreSQL database reachable through an SSM tunnel, queue-driven
Lambda workers and an HTTP API on App Runner or ECS Fargate.

Use --backend null to plan and apply against a local dry-run provider.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel, logFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Deployment file (.pkl, .yaml or .yml); defaults apply when omitted")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	flags.StringVar(&backendName, "backend", BackendAWS, "Provisioning backend: aws or null")
	flags.StringVar(&stateLocation, "state", "", "State location: a file path or s3://bucket/key?region=...&lock_table=...")
	flags.StringToStringVarP(&properties, "prop", "D", nil, "External properties for PKL deployments (key=value)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(frameworksCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
