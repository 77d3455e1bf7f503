package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/picklr-io/appstack/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	// New resource
	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              TriggerType,
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.Create, resp.Action)

	// Same triggers
	state := State{ID: "null-test", Triggers: desired.Triggers}
	stateJSON, _ := json.Marshal(state)

	resp, err = p.Plan(ctx, &provider.PlanRequest{
		Type:              TriggerType,
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.NoOp, resp.Action)

	// Changed triggers force replacement
	newDesiredJSON, _ := json.Marshal(Config{Triggers: map[string]string{"foo": "baz"}})

	resp, err = p.Plan(ctx, &provider.PlanRequest{
		Type:              TriggerType,
		Name:              "test",
		DesiredConfigJSON: newDesiredJSON,
		PriorStateJSON:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.Replace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestProvider_PlanUsesHashForOtherTypes(t *testing.T) {
	p := New()
	ctx := context.Background()

	resp, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              "aws:SQS.Queue",
		Name:              "jobs",
		DesiredConfigJSON: []byte(`{}`),
		DesiredHash:       "h2",
		PriorInputsHash:   "h1",
		PriorStateJSON:    []byte(`{"id":"q"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.Replace, resp.Action)
}

func TestProvider_Apply(t *testing.T) {
	p := New()
	ctx := context.Background()

	desiredJSON, _ := json.Marshal(Config{Triggers: map[string]string{"foo": "bar"}})

	resp, err := p.Apply(ctx, &provider.ApplyRequest{
		Type:              TriggerType,
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)

	var newState State
	require.NoError(t, json.Unmarshal(resp.NewStateJSON, &newState))
	assert.Equal(t, "null-test", newState.ID)
	assert.Equal(t, "bar", newState.Triggers["foo"])
}

func TestProvider_ApplyFabricatesComputedAttributes(t *testing.T) {
	p := New()

	resp, err := p.Apply(context.Background(), &provider.ApplyRequest{
		Type:              "aws:RDS.Instance",
		Name:              "db",
		DesiredConfigJSON: []byte(`{"port":5432}`),
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.NewStateJSON, &out))
	assert.Equal(t, "null-rds-instance-db", out["id"])
	assert.Equal(t, "db.null.internal", out["address"])
	assert.Equal(t, float64(5432), out["port"], "desired values win over fabricated ones")
	assert.Contains(t, out["arn"], "rds.instance")
}
