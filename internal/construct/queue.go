package construct

import (
	"fmt"

	"github.com/picklr-io/appstack/internal/ir"
)

const typeQueue = "aws:SQS.Queue"

type QueueProps struct {
	// Name is optional; the provider derives one from the resource name.
	Name string
}

type Queue struct {
	stack *Stack
	id    string

	Ref Ref
}

func NewQueue(s *Stack, id string, props QueueProps) (*Queue, error) {
	attrs := map[string]any{}
	if props.Name != "" {
		attrs["queueName"] = props.Name
	}
	ref, err := s.Add(&ir.Resource{Type: typeQueue, Name: id, Properties: attrs})
	if err != nil {
		return nil, err
	}
	return &Queue{stack: s, id: id, Ref: ref}, nil
}

func (q *Queue) ARN() string {
	return q.Ref.Attr("arn")
}

func (q *Queue) URL() string {
	return q.Ref.Attr("url")
}

// GrantSendMessages lets p publish to the queue.
func (q *Queue) GrantSendMessages(p Principal) error {
	role := p.Role()
	if role.IsZero() {
		return fmt.Errorf("queue %s: principal has no role", q.id)
	}
	_, err := addRolePolicy(q.stack, role, "send-"+q.id,
		allowPolicy(q.ARN(), "sqs:SendMessage", "sqs:GetQueueAttributes", "sqs:GetQueueUrl"))
	return err
}

// grantConsumeMessages lets p receive and delete messages.
func (q *Queue) grantConsumeMessages(p Principal) (Ref, error) {
	return addRolePolicy(q.stack, p.Role(), "consume-"+q.id,
		allowPolicy(q.ARN(), "sqs:ReceiveMessage", "sqs:DeleteMessage",
			"sqs:GetQueueAttributes", "sqs:ChangeMessageVisibility"))
}
