package construct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBastion_Resources(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	b, err := NewBastion(s, "bastion", BastionProps{Network: n})
	require.NoError(t, err)

	cfg := synth(t, s)
	inst := find(t, cfg, b.Instance)
	assert.Equal(t, DefaultBastionInstanceType, inst.Properties["instanceType"])
	assert.Equal(t, AmazonLinuxParameter, inst.Properties["imageParameter"])

	public, err := n.SelectSubnets(SubnetSelection{Kind: Public})
	require.NoError(t, err)
	assert.Equal(t, public.IDs()[0], inst.Properties["subnetId"])

	role := find(t, cfg, b.InstanceRole)
	assert.Equal(t, []any{policySSMCore}, role.Properties["managedPolicyArns"])

	// no implicit database grant
	assert.Empty(t, ofType(cfg, typeSecurityGroupIngress))
}

func TestBastion_TunnelCommand(t *testing.T) {
	s := testStack(t)
	b, err := NewBastion(s, "bastion", BastionProps{Network: testNetwork(t, s)})
	require.NoError(t, err)

	cmd := b.TunnelCommand("db.internal", 5432, 5433)
	assert.Contains(t, cmd, "db.internal")
	assert.Contains(t, cmd, `"portNumber":["5432"]`)
	assert.Contains(t, cmd, `"localPortNumber":["5433"]`)
	assert.Equal(t,
		`aws ssm start-session --target ${ptr://aws:EC2.Instance/bastion/id} --document-name AWS-StartPortForwardingSessionToRemoteHost --parameters '{"host":["db.internal"],"portNumber":["5432"],"localPortNumber":["5433"]}'`,
		cmd)

	require.NoError(t, b.TunnelOutput("databaseSSMCommand", "db.internal", 5432, 5433))
	cfg := synth(t, s)
	assert.Equal(t, cmd, cfg.Outputs["databaseSSMCommand"])
}

func TestBastion_RequiresNetwork(t *testing.T) {
	_, err := NewBastion(testStack(t), "bastion", BastionProps{})
	assert.ErrorIs(t, err, ErrMissingNetwork)
}
