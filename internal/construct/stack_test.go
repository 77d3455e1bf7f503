package construct

import (
	"testing"

	"github.com/picklr-io/appstack/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_AddIdempotent(t *testing.T) {
	s := testStack(t)

	a, err := s.Add(&ir.Resource{Type: typeQueue, Name: "q", Properties: map[string]any{"queueName": "jobs"}})
	require.NoError(t, err)
	b, err := s.Add(&ir.Resource{Type: typeQueue, Name: "q", Properties: map[string]any{"queueName": "jobs"}})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = s.Add(&ir.Resource{Type: typeQueue, Name: "q", Properties: map[string]any{"queueName": "other"}})
	assert.ErrorIs(t, err, ErrDuplicateResource)

	cfg := synth(t, s)
	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, DefaultProvider, cfg.Resources[0].Provider)
	assert.Equal(t, map[string]any{"Name": "q", StackTag: "test"}, cfg.Resources[0].Properties["tags"])
}

func TestStack_SynthKeepsRegistrationOrder(t *testing.T) {
	s := testStack(t)
	for _, name := range []string{"c", "a", "b"} {
		_, err := s.Add(&ir.Resource{Type: typeQueue, Name: name})
		require.NoError(t, err)
	}

	cfg := synth(t, s)
	require.Len(t, cfg.Resources, 3)
	assert.Equal(t, "c", cfg.Resources[0].Name)
	assert.Equal(t, "a", cfg.Resources[1].Name)
	assert.Equal(t, "b", cfg.Resources[2].Name)
	assert.Equal(t, "test", cfg.Stack)
}

func TestStack_SynthRejectsDanglingRefs(t *testing.T) {
	s := testStack(t)
	_, err := s.Add(&ir.Resource{
		Type:       typeSubnet,
		Name:       "orphan",
		Properties: map[string]any{"vpcId": Ref{Type: typeVpc, Name: "missing"}.Attr("id")},
	})
	require.NoError(t, err)

	_, err = s.Synth()
	assert.ErrorIs(t, err, ErrDanglingRef)
}

func TestStack_SynthRejectsDanglingOutputRefs(t *testing.T) {
	s := testStack(t)
	require.NoError(t, s.Output("host", Ref{Type: typeDBInstance, Name: "gone"}.Interp("address")))

	_, err := s.Synth()
	assert.ErrorIs(t, err, ErrDanglingRef)
}

func TestStack_OutputRejectsSecrets(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	db, err := NewDataStore(s, "db", DataStoreProps{Network: n})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Output("pass", db.Secret().Field(SecretKeyPassword)), ErrSensitiveOutput)
	assert.ErrorIs(t, s.Output("secret", db.Secret()), ErrSensitiveOutput)
	assert.ErrorIs(t, s.Output("raw", db.Secret().Ref().Attr("secretString")), ErrSensitiveOutput)
	assert.NoError(t, s.Output("secretArn", db.Secret().Ref().Attr("arn")))
}

func TestStack_OutputConflict(t *testing.T) {
	s := testStack(t)
	require.NoError(t, s.Output("x", "1"))
	require.NoError(t, s.Output("x", "1"))
	assert.Error(t, s.Output("x", "2"))
}
