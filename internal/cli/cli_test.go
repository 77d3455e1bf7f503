package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/appstack/internal/config"
	"github.com/picklr-io/appstack/internal/ir"
	"github.com/picklr-io/appstack/providers/null"
)

// runCLI executes the root command with fresh flag values and returns what
// it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, logFormat = "", "error", "text"
	backendName, stateLocation, properties, noColor = BackendAWS, "", nil, true
	applyAutoApprove, destroyAutoApprove, continueOnError = false, false, false
	planOutFile, synthOutFile, outputJSON, targets = "", "", false, nil

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeDeployment(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const databaseLambda = "version: v1\nlayout: database-lambda\n"

func TestNewRegistry(t *testing.T) {
	_, err := newRegistry("gcp")
	assert.ErrorContains(t, err, "unknown backend")

	reg, err := newRegistry(BackendNull)
	require.NoError(t, err)
	require.NoError(t, reg.LoadProvider("aws"))
	p, err := reg.Get("aws")
	require.NoError(t, err)
	assert.IsType(t, &null.Provider{}, p)
}

func TestLoadDeployment_InjectsSourceConnection(t *testing.T) {
	t.Setenv(config.SourceConnectionEnv, "arn:aws:apprunner:us-east-1:123:connection/gh")
	configPath = ""
	d, err := loadDeployment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:apprunner:us-east-1:123:connection/gh", d.SourceConnectionArn)
}

func TestValidate(t *testing.T) {
	out, err := runCLI(t, "validate", "-c", writeDeployment(t, databaseLambda))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid: stack appstack-v1, layout database-lambda")
}

func TestValidate_MissingConnection(t *testing.T) {
	t.Setenv(config.SourceConnectionEnv, "")
	_, err := runCLI(t, "validate")
	assert.Error(t, err)
}

func TestSynth(t *testing.T) {
	out, err := runCLI(t, "synth", "-c", writeDeployment(t, databaseLambda))
	require.NoError(t, err)

	var cfg ir.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "appstack-v1", cfg.Stack)
	assert.NotEmpty(t, cfg.Resources)
	assert.Contains(t, cfg.Outputs, "databaseSSMCommand")
}

func TestGraph(t *testing.T) {
	out, err := runCLI(t, "graph", "-c", writeDeployment(t, databaseLambda))
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "aws:RDS.Instance.database-v1")
}

func TestFrameworks(t *testing.T) {
	out, err := runCLI(t, "frameworks")
	require.NoError(t, err)
	assert.Contains(t, out, "django")
	assert.Contains(t, out, "FastAPI")
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "appstack version dev")
}

func TestPlanAndApply_NullBackend(t *testing.T) {
	deploy := writeDeployment(t, databaseLambda)
	statePath := filepath.Join(t.TempDir(), "state.pkl")
	planPath := filepath.Join(t.TempDir(), "plan.json")

	out, err := runCLI(t, "plan", "-c", deploy, "--backend", "null", "--state", statePath, "-o", planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "will be CREATE")
	assert.Contains(t, out, "Plan Summary:")
	_, err = os.Stat(planPath)
	require.NoError(t, err)
	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err), "plan must not write state")

	out, err = runCLI(t, "apply", "-c", deploy, "--backend", "null", "--state", statePath, "--auto-approve")
	require.NoError(t, err)
	assert.Contains(t, out, "Apply complete!")
	assert.Contains(t, out, `databaseHost = "database-v1.null.internal"`)
	assert.Contains(t, out, "databasePort = 5432")

	_, err = os.Stat(statePath)
	require.NoError(t, err)
	_, err = os.Stat(statePath + ".lock")
	assert.True(t, os.IsNotExist(err), "lock must be released")

	if _, err := exec.LookPath("pkl"); err != nil {
		t.Skip("pkl binary not on PATH; state read-back needs it")
	}

	out, err = runCLI(t, "output", "databaseHost", "-c", deploy, "--state", statePath)
	require.NoError(t, err)
	assert.Equal(t, "database-v1.null.internal\n", out)

	out, err = runCLI(t, "plan", "-c", deploy, "--backend", "null", "--state", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, "No changes.")

	out, err = runCLI(t, "destroy", "-c", deploy, "--backend", "null", "--state", statePath, "--auto-approve")
	require.NoError(t, err)
	assert.Contains(t, out, "Destroy complete!")
}

func TestPlan_Target(t *testing.T) {
	deploy := writeDeployment(t, databaseLambda)
	statePath := filepath.Join(t.TempDir(), "state.pkl")

	out, err := runCLI(t, "plan", "-c", deploy, "--backend", "null", "--state", statePath,
		"--target", "aws:EC2.Vpc.network-v1")
	require.NoError(t, err)
	assert.Contains(t, out, "aws:EC2.Vpc.network-v1 will be CREATE")
	assert.NotContains(t, out, "aws:RDS.Instance.database-v1")
}

func TestRenderPlanChanges(t *testing.T) {
	noColor = true
	plan := &ir.Plan{
		Summary: &ir.PlanSummary{Create: 1},
		Changes: []*ir.ResourceChange{
			{
				Address: "aws:SQS.Queue.q",
				Action:  "CREATE",
				Desired: &ir.Resource{Type: "aws:SQS.Queue", Name: "q", Properties: map[string]any{"queueName": "jobs", "tags": map[string]any{"a": "b"}}},
			},
			{Address: "aws:EC2.Vpc.v", Action: "NOOP"},
		},
	}
	var buf bytes.Buffer
	renderPlanChanges(&buf, plan)
	out := buf.String()
	assert.Contains(t, out, "# aws:SQS.Queue.q will be CREATE")
	assert.Contains(t, out, `+ queueName = "jobs"`)
	assert.Contains(t, out, `+ tags = {"a":"b"}`)
	assert.NotContains(t, out, "aws:EC2.Vpc.v")
	assert.Equal(t, 1, pendingChanges(plan))
}

func TestRenderPropertyDiff_MasksSensitive(t *testing.T) {
	noColor = true
	var buf bytes.Buffer
	renderPropertyDiff(&buf, map[string]*ir.PropertyDiff{
		"password": {Before: "a", After: "b", Sensitive: true, Action: "update"},
		"port":     {Before: 1, After: 2, Action: "update", ForcesReplacement: true},
	})
	out := buf.String()
	assert.Contains(t, out, "~ password = (sensitive) -> (sensitive)")
	assert.Contains(t, out, "~ port = 1 -> 2 # forces replacement")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("password")), bytes.Index(buf.Bytes(), []byte("port")))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"x"`, formatValue("x"))
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, `["a",1]`, formatValue([]any{"a", 1}))
}
