package eval

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDeployment_YAML(t *testing.T) {
	path := writeFile(t, "deploy.yaml", `
version: staging
framework: django
api:
  kind: container
database:
  multiAz: false
tunnel:
  localPort: 6543
`)

	d, err := NewEvaluator(nil).LoadDeployment(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "staging", d.Version)
	assert.Equal(t, "django", d.Framework)
	assert.Equal(t, "container", d.API.Kind)
	assert.False(t, d.MultiAZ())
	assert.Equal(t, 6543, d.Tunnel.LocalPort)
	// Unset fields take defaults.
	assert.Equal(t, "10.1.0.0/16", d.Network.CIDR)
	assert.Equal(t, "api-job-services", d.Layout)
}

func TestLoadDeployment_YAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "deploy.yml", "framwork: flask\n")

	_, err := NewEvaluator(nil).LoadDeployment(context.Background(), path)
	assert.ErrorContains(t, err, "framwork")
}

func TestLoadDeployment_EmptyYAML(t *testing.T) {
	path := writeFile(t, "deploy.yaml", "")

	d, err := NewEvaluator(nil).LoadDeployment(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "v1", d.Version)
}

func TestLoadDeployment_Defaults(t *testing.T) {
	d, err := NewEvaluator(nil).LoadDeployment(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fast", d.Framework)
}

func TestLoadDeployment_UnsupportedExtension(t *testing.T) {
	_, err := NewEvaluator(nil).LoadDeployment(context.Background(), "deploy.json")
	assert.ErrorContains(t, err, "unsupported")
}

func TestLoadDeployment_PKL(t *testing.T) {
	if _, err := exec.LookPath("pkl"); err != nil {
		t.Skip("pkl binary not on PATH")
	}
	path := writeFile(t, "deploy.pkl", `
version = "prod"
framework = "flask"
network {
  cidr = "10.2.0.0/16"
}
`)

	d, err := NewEvaluator(nil).LoadDeployment(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "prod", d.Version)
	assert.Equal(t, "flask", d.Framework)
	assert.Equal(t, "10.2.0.0/16", d.Network.CIDR)
}
