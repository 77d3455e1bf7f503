package construct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_InAndOutOfNetwork(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	q1, err := NewQueue(s, "queue1", QueueProps{})
	require.NoError(t, err)
	q2, err := NewQueue(s, "queue2", QueueProps{})
	require.NoError(t, err)

	inside, err := NewWorker(s, "lambda1", WorkerProps{Network: n, CodePath: "src/lambdas/lambda1"})
	require.NoError(t, err)
	outside, err := NewWorker(s, "lambda2", WorkerProps{CodePath: "src/lambdas/lambda2"})
	require.NoError(t, err)

	t1, err := inside.BindQueue(q1)
	require.NoError(t, err)
	t2, err := outside.BindQueue(q2)
	require.NoError(t, err)
	assert.NotEqual(t, t1.Mapping, t2.Mapping)

	cfg := synth(t, s)
	mappings := ofType(cfg, typeEventSourceMapping)
	require.Len(t, mappings, 2)

	m1 := find(t, cfg, t1.Mapping)
	assert.Equal(t, inside.Function.Attr("name"), m1.Properties["functionName"])
	assert.Equal(t, q1.ARN(), m1.Properties["eventSourceArn"])
	assert.Equal(t, []string{t1.Policy.Addr()}, m1.DependsOn)

	m2 := find(t, cfg, t2.Mapping)
	assert.Equal(t, outside.Function.Attr("name"), m2.Properties["functionName"])
	assert.Equal(t, q2.ARN(), m2.Properties["eventSourceArn"])

	fn1 := find(t, cfg, inside.Function)
	assert.Contains(t, fn1.Properties, "vpcConfig")
	assert.Equal(t, DefaultWorkerRuntime, fn1.Properties["runtime"])
	assert.Equal(t, DefaultWorkerHandler, fn1.Properties["handler"])
	fn2 := find(t, cfg, outside.Function)
	assert.NotContains(t, fn2.Properties, "vpcConfig")

	role1 := find(t, cfg, inside.ExecutionRole)
	assert.Equal(t, []any{policyLambdaBasic, policyLambdaVPC}, role1.Properties["managedPolicyArns"])
	role2 := find(t, cfg, outside.ExecutionRole)
	assert.Equal(t, []any{policyLambdaBasic}, role2.Properties["managedPolicyArns"])

	assert.True(t, inside.InNetwork())
	assert.False(t, outside.InNetwork())
}

func TestWorker_OneTrigger(t *testing.T) {
	s := testStack(t)
	q1, err := NewQueue(s, "queue1", QueueProps{})
	require.NoError(t, err)
	q2, err := NewQueue(s, "queue2", QueueProps{})
	require.NoError(t, err)
	w, err := NewWorker(s, "worker", WorkerProps{CodePath: "src/worker"})
	require.NoError(t, err)

	first, err := w.BindQueue(q1)
	require.NoError(t, err)
	again, err := w.BindQueue(q1)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = w.BindQueue(q2)
	assert.ErrorIs(t, err, ErrTriggerBound)

	bound, ok := w.Trigger()
	require.True(t, ok)
	assert.Equal(t, q1.Ref, bound.Queue)

	cfg := synth(t, s)
	assert.Len(t, ofType(cfg, typeEventSourceMapping), 1)
}

func TestWorker_RequiresCodePath(t *testing.T) {
	_, err := NewWorker(testStack(t), "worker", WorkerProps{})
	assert.Error(t, err)
}

func TestWorker_EnvironmentFinalizedAtSynth(t *testing.T) {
	s := testStack(t)
	w, err := NewWorker(s, "worker", WorkerProps{CodePath: "src/worker"})
	require.NoError(t, err)
	w.AddEnvironment("MODE", "batch")

	cfg := synth(t, s)
	fn := find(t, cfg, w.Function)
	assert.Equal(t, map[string]any{"MODE": "batch"}, fn.Properties["environment"])
	assert.Contains(t, fn.Properties, "tags")
}

func TestQueue_GrantSendMessages(t *testing.T) {
	s := testStack(t)
	q, err := NewQueue(s, "jobs", QueueProps{Name: "jobs-queue"})
	require.NoError(t, err)
	w, err := NewWorker(s, "worker", WorkerProps{CodePath: "src/worker"})
	require.NoError(t, err)

	require.NoError(t, q.GrantSendMessages(w))
	require.NoError(t, q.GrantSendMessages(w))

	cfg := synth(t, s)
	queue := find(t, cfg, q.Ref)
	assert.Equal(t, "jobs-queue", queue.Properties["queueName"])

	policies := ofType(cfg, typeRolePolicy)
	require.Len(t, policies, 1)
	assert.Equal(t, w.ExecutionRole.Attr("name"), policies[0].Properties["roleName"])
	doc := policies[0].Properties["policyDocument"].(map[string]any)
	stmt := doc["Statement"].([]any)[0].(map[string]any)
	assert.Equal(t, q.ARN(), stmt["Resource"])
	assert.Equal(t, []any{"sqs:SendMessage", "sqs:GetQueueAttributes", "sqs:GetQueueUrl"}, stmt["Action"])
}

func TestWorker_GrantSecretRead(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	db, err := NewDataStore(s, "db", DataStoreProps{Network: n})
	require.NoError(t, err)
	w, err := NewWorker(s, "worker", WorkerProps{Network: n, CodePath: "src/worker"})
	require.NoError(t, err)

	require.NoError(t, w.GrantSecretRead(db.Secret()))
	require.NoError(t, w.GrantSecretRead(db.Secret()))

	cfg := synth(t, s)
	var grants int
	for _, p := range ofType(cfg, typeRolePolicy) {
		if p.Properties["roleName"] != w.ExecutionRole.Attr("name") {
			continue
		}
		grants++
		doc := p.Properties["policyDocument"].(map[string]any)
		stmt := doc["Statement"].([]any)[0].(map[string]any)
		assert.Equal(t, db.Secret().Ref().Attr("arn"), stmt["Resource"])
		assert.Contains(t, stmt["Action"], "secretsmanager:GetSecretValue")
	}
	assert.Equal(t, 1, grants)
}
