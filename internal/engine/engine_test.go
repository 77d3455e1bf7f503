package engine_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/appstack/internal/config"
	"github.com/picklr-io/appstack/internal/engine"
	"github.com/picklr-io/appstack/internal/ir"
	"github.com/picklr-io/appstack/internal/provider"
	"github.com/picklr-io/appstack/internal/stack"
	"github.com/picklr-io/appstack/providers/null"
)

const (
	vpcAddr     = "aws:EC2.Vpc.network-v1"
	secretAddr  = "aws:SecretsManager.Secret.database-v1-credentials"
	dbAddr      = "aws:RDS.Instance.database-v1"
	taskAddr    = "aws:ECS.TaskDefinition.api-v1"
	serviceAddr = "aws:ECS.Service.api-v1"
)

// dryRunEngine serves every aws resource with the null backend.
func dryRunEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register("null", func() provider.Provider { return null.New() })
	reg.Route("aws", "null")
	return engine.NewEngine(reg)
}

func deployment() config.Deployment {
	cfg := config.Default()
	cfg.SourceConnectionArn = "arn:aws:apprunner:us-east-1:123456789012:connection/github/abc"
	return cfg
}

func containerDeployment() config.Deployment {
	cfg := config.Default()
	cfg.API.Kind = config.APIKindContainer
	return cfg
}

// synthesize assembles a fresh graph each call, so edits never alias the
// inputs recorded in state.
func synthesize(t *testing.T, d config.Deployment, edit func(*ir.Config)) *ir.Config {
	t.Helper()
	s, err := stack.Assemble(d)
	require.NoError(t, err)
	cfg, err := s.Synth()
	require.NoError(t, err)
	if edit != nil {
		edit(cfg)
	}
	return cfg
}

func resourceAt(t *testing.T, cfg *ir.Config, addr string) *ir.Resource {
	t.Helper()
	for _, r := range cfg.Resources {
		if r.Addr() == addr {
			return r
		}
	}
	t.Fatalf("missing %s", addr)
	return nil
}

func applied(t *testing.T, eng *engine.Engine, d config.Deployment) *ir.State {
	t.Helper()
	ctx := context.Background()
	plan, err := eng.CreatePlan(ctx, synthesize(t, d, nil), &ir.State{Version: 1})
	require.NoError(t, err)
	state, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.NoError(t, err)
	return state
}

func addresses(plan *ir.Plan) []string {
	out := make([]string, len(plan.Changes))
	for i, c := range plan.Changes {
		out[i] = c.Address
	}
	return out
}

func TestEngine_PlanSynthesizedStack(t *testing.T) {
	eng := dryRunEngine(t)
	cfg := synthesize(t, deployment(), nil)

	plan, err := eng.CreatePlan(context.Background(), cfg, &ir.State{Version: 1})
	require.NoError(t, err)
	assert.Len(t, plan.Changes, len(cfg.Resources))
	assert.Equal(t, len(cfg.Resources), plan.Summary.Create)
	for _, c := range plan.Changes {
		assert.Equal(t, "CREATE", c.Action, c.Address)
	}
	assert.NotEmpty(t, plan.Metadata.ConfigHash)
}

func TestEngine_SubnetsFollowTheirVpc(t *testing.T) {
	eng := dryRunEngine(t)
	plan, err := eng.CreatePlan(context.Background(), synthesize(t, deployment(), nil), &ir.State{Version: 1})
	require.NoError(t, err)

	order := addresses(plan)
	vpc := slices.Index(order, vpcAddr)
	require.GreaterOrEqual(t, vpc, 0)
	var subnets int
	for i, addr := range order {
		if strings.HasPrefix(addr, "aws:EC2.Subnet.") {
			subnets++
			assert.Greater(t, i, vpc, addr)
		}
	}
	assert.Equal(t, 4, subnets)

	state, err := eng.ApplyPlan(context.Background(), plan, &ir.State{Version: 1})
	require.NoError(t, err)
	for _, res := range state.Resources {
		if res.Type == "aws:EC2.Subnet" {
			assert.Contains(t, res.Dependencies, vpcAddr, res.Name)
		}
	}
}

func TestEngine_ReplanAfterApplyIsNoOp(t *testing.T) {
	eng := dryRunEngine(t)
	state := applied(t, eng, deployment())
	assert.Equal(t, "database-v1.null.internal", state.Outputs[stack.OutputDatabaseHost])

	plan, err := eng.CreatePlan(context.Background(), synthesize(t, deployment(), nil), state)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
	assert.Zero(t, plan.Summary.Create+plan.Summary.Update+plan.Summary.Replace+plan.Summary.Delete)
}

func TestEngine_SecretTemplateEditIsIgnored(t *testing.T) {
	eng := dryRunEngine(t)
	state := applied(t, eng, deployment())

	cfg := synthesize(t, deployment(), func(cfg *ir.Config) {
		gen := resourceAt(t, cfg, secretAddr).Properties["generateSecretString"].(map[string]any)
		gen["passwordLength"] = 40
	})
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestEngine_SecretReplacementIsRefused(t *testing.T) {
	eng := dryRunEngine(t)
	state := applied(t, eng, deployment())

	cfg := synthesize(t, deployment(), func(cfg *ir.Config) {
		resourceAt(t, cfg, secretAddr).Properties["description"] = "rotated"
	})
	_, err := eng.CreatePlan(context.Background(), cfg, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
	assert.Contains(t, err.Error(), secretAddr)
}

func TestEngine_ReplacementReplansDependents(t *testing.T) {
	eng := dryRunEngine(t)
	state := applied(t, eng, containerDeployment())

	cfg := synthesize(t, containerDeployment(), func(cfg *ir.Config) {
		resourceAt(t, cfg, taskAddr).Properties["cpu"] = "512"
	})
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	assert.Equal(t, []string{taskAddr, serviceAddr}, addresses(plan))
	for _, c := range plan.Changes {
		assert.Equal(t, "REPLACE", c.Action, c.Address)
	}
	assert.NotContains(t, addresses(plan), dbAddr)

	state, err = eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)
	for _, res := range state.Resources {
		if res.Addr() == taskAddr {
			assert.Equal(t, "512", res.Inputs["cpu"])
		}
	}

	plan, err = eng.CreatePlan(context.Background(), synthesize(t, containerDeployment(), func(cfg *ir.Config) {
		resourceAt(t, cfg, taskAddr).Properties["cpu"] = "512"
	}), state)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestEngine_TargetPlansDependenciesOnly(t *testing.T) {
	eng := dryRunEngine(t)
	plan, err := eng.CreatePlanWithTargets(context.Background(), synthesize(t, deployment(), nil), &ir.State{Version: 1}, []string{dbAddr})
	require.NoError(t, err)

	order := addresses(plan)
	assert.Contains(t, order, dbAddr)
	assert.Contains(t, order, secretAddr)
	assert.Contains(t, order, vpcAddr)
	assert.Equal(t, dbAddr, order[len(order)-1])
	for _, addr := range order {
		assert.False(t, strings.HasPrefix(addr, "aws:Lambda."), addr)
		assert.False(t, strings.HasPrefix(addr, "aws:AppRunner."), addr)
	}
}

func TestEngine_RemovedResourcesAreDeleted(t *testing.T) {
	eng := dryRunEngine(t)
	state := applied(t, eng, deployment())

	d := deployment()
	d.Layout = string(stack.DatabaseLambda)
	plan, err := eng.CreatePlan(context.Background(), synthesize(t, d, nil), state)
	require.NoError(t, err)

	var deleted []string
	for _, c := range plan.Changes {
		if c.Action == "DELETE" {
			deleted = append(deleted, c.Address)
		}
	}
	assert.Contains(t, deleted, "aws:SQS.Queue.queue1-v1")
	assert.Contains(t, deleted, "aws:AppRunner.Service.api-v1")
	assert.NotContains(t, deleted, dbAddr)
	assert.Equal(t, len(deleted), plan.Summary.Delete)
}
