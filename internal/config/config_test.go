package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	d := Default()
	require.NoError(t, d.Validate())

	assert.Equal(t, "api-job-services", d.Layout)
	assert.Equal(t, "fast", d.Framework)
	assert.Equal(t, APIKindManaged, d.API.Kind)
	assert.Equal(t, "10.1.0.0/16", d.Network.CIDR)
	assert.True(t, d.MultiAZ())
	assert.False(t, d.Database.PubliclyAccessible)
	assert.Equal(t, 5433, d.Tunnel.LocalPort)
	assert.Equal(t, []string{"us-east-1a", "us-east-1b", "us-east-1c"}, d.Zones())
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	off := false
	d := Deployment{
		Version:           "staging",
		Region:            "eu-west-1",
		AvailabilityZones: []string{"eu-west-1b", "eu-west-1c"},
		Database:          DatabaseConfig{MultiAZ: &off},
		Tunnel:            TunnelConfig{LocalPort: 6543},
	}
	d.ApplyDefaults()

	assert.Equal(t, "staging", d.Version)
	assert.False(t, d.MultiAZ())
	assert.Equal(t, 6543, d.Tunnel.LocalPort)
	assert.Equal(t, []string{"eu-west-1b", "eu-west-1c"}, d.Zones())
}

func TestValidate_JoinsEveryProblem(t *testing.T) {
	d := Default()
	d.Version = "Has Spaces"
	d.Network.CIDR = "10.1.0.0"
	d.API.Kind = "lambda"
	d.Tunnel.LocalPort = 70000

	err := d.Validate()
	require.Error(t, err)
	for _, want := range []string{"version", "network.cidr", "api.kind", "tunnel.localPort"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate_RejectsIPv6(t *testing.T) {
	d := Default()
	d.Network.CIDR = "fd00::/56"
	assert.ErrorContains(t, d.Validate(), "IPv4")
}
