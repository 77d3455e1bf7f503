package construct

import (
	"fmt"
	"maps"

	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeFunction           = "aws:Lambda.Function"
	typeEventSourceMapping = "aws:Lambda.EventSourceMapping"
)

// Worker defaults.
const (
	DefaultWorkerRuntime = string(lambdatypes.RuntimePython310)
	DefaultWorkerHandler = "index.main"
	DefaultWorkerTimeout = 30
	DefaultWorkerMemory  = 128
	DefaultBatchSize     = 10
)

type WorkerProps struct {
	// Network is optional. Without it the worker runs outside any VPC and
	// cannot be granted network reachability.
	Network  *Network
	Runtime  string
	Handler  string
	CodePath string
	Timeout  int
	Memory   int
}

// Worker is an event-driven compute unit with at most one trigger.
type Worker struct {
	stack *Stack
	id    string
	props WorkerProps

	Function      Ref
	ExecutionRole Ref
	group         Ref
	subnets       SubnetSet

	env     map[string]any
	trigger *Trigger
}

// Trigger binds a queue to a worker. Each message is handed to one
// invocation; redelivery after failure comes from the queue.
type Trigger struct {
	Mapping Ref
	Queue   Ref
	Policy  Ref
}

func NewWorker(s *Stack, id string, props WorkerProps) (*Worker, error) {
	if props.CodePath == "" {
		return nil, fmt.Errorf("worker %s: code path is required", id)
	}
	if props.Runtime == "" {
		props.Runtime = DefaultWorkerRuntime
	}
	if props.Handler == "" {
		props.Handler = DefaultWorkerHandler
	}
	if props.Timeout == 0 {
		props.Timeout = DefaultWorkerTimeout
	}
	if props.Memory == 0 {
		props.Memory = DefaultWorkerMemory
	}

	w := &Worker{stack: s, id: id, props: props, env: map[string]any{}}

	managed := []string{policyLambdaBasic}
	if props.Network != nil {
		managed = append(managed, policyLambdaVPC)
	}
	var err error
	w.ExecutionRole, err = addRole(s, resourceName(id, "role"), "lambda.amazonaws.com", managed...)
	if err != nil {
		return nil, err
	}

	if props.Network != nil {
		w.subnets, err = props.Network.SelectSubnets(SubnetSelection{Kind: Isolated, OnePerAZ: true})
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", id, err)
		}
		w.group, err = addSecurityGroup(s, resourceName(id, "sg"), props.Network.Vpc(),
			fmt.Sprintf("Worker %s", id))
		if err != nil {
			return nil, err
		}
	}

	w.Function, err = s.Add(&ir.Resource{Type: typeFunction, Name: id, Properties: w.functionProps()})
	if err != nil {
		return nil, err
	}
	s.onSynth(func() error {
		return s.replace(w.Function, w.functionProps())
	})
	return w, nil
}

func (w *Worker) functionProps() map[string]any {
	props := map[string]any{
		"runtime":     w.props.Runtime,
		"handler":     w.props.Handler,
		"codePath":    w.props.CodePath,
		"role":        w.ExecutionRole.Attr("arn"),
		"timeout":     w.props.Timeout,
		"memorySize":  w.props.Memory,
		"environment": maps.Clone(w.env),
	}
	if !w.group.IsZero() {
		props["vpcConfig"] = map[string]any{
			"subnetIds":        w.subnets.IDs(),
			"securityGroupIds": []any{w.group.Attr("id")},
		}
	}
	return props
}

// InNetwork reports whether the worker runs inside a VPC.
func (w *Worker) InNetwork() bool {
	return !w.group.IsZero()
}

func (w *Worker) SecurityGroup() (Ref, bool) {
	return w.group, !w.group.IsZero()
}

func (w *Worker) Role() Ref {
	return w.ExecutionRole
}

func (w *Worker) AddEnvironment(key, value string) {
	w.env[key] = value
}

// GrantSecretRead lets the worker's execution role read secret at runtime.
func (w *Worker) GrantSecretRead(secret SecretRef) error {
	return grantSecretRead(w.stack, w.ExecutionRole, secret.Ref())
}

// BindQueue makes q the worker's trigger. Binding the same queue again
// returns the existing trigger.
func (w *Worker) BindQueue(q *Queue) (Trigger, error) {
	if w.trigger != nil {
		if w.trigger.Queue == q.Ref {
			return *w.trigger, nil
		}
		return Trigger{}, fmt.Errorf("worker %s: %w: bound to %s", w.id, ErrTriggerBound, w.trigger.Queue.Name)
	}

	policy, err := q.grantConsumeMessages(w)
	if err != nil {
		return Trigger{}, err
	}
	mapping, err := w.stack.Add(&ir.Resource{
		Type:      typeEventSourceMapping,
		Name:      resourceName(w.id, q.id),
		DependsOn: []string{policy.Addr()},
		Properties: map[string]any{
			"functionName":   w.Function.Attr("name"),
			"eventSourceArn": q.ARN(),
			"batchSize":      DefaultBatchSize,
		},
	})
	if err != nil {
		return Trigger{}, err
	}
	w.trigger = &Trigger{Mapping: mapping, Queue: q.Ref, Policy: policy}
	return *w.trigger, nil
}

// Trigger returns the bound trigger, if any.
func (w *Worker) Trigger() (Trigger, bool) {
	if w.trigger == nil {
		return Trigger{}, false
	}
	return *w.trigger, true
}
