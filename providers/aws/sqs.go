package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/picklr-io/appstack/internal/provider"
)

type QueueConfig struct {
	QueueName string            `json:"queueName"`
	Tags      map[string]string `json:"tags"`
}

type QueueState struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	ARN  string `json:"arn"`
	Name string `json:"name"`
}

func (p *Provider) applyQueue(ctx context.Context, req *provider.ApplyRequest) (*QueueState, error) {
	desired, err := decodeDesired[QueueConfig](req)
	if err != nil {
		return nil, err
	}
	name := desired.QueueName
	if name == "" {
		name = req.Name
	}

	resp, err := p.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
		Tags:      desired.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	attrs, err := p.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       resp.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue ARN: %w", err)
	}

	url := aws.ToString(resp.QueueUrl)
	return &QueueState{
		ID:   url,
		URL:  url,
		ARN:  attrs.Attributes[string(types.QueueAttributeNameQueueArn)],
		Name: name,
	}, nil
}

func (p *Provider) deleteQueue(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[QueueState](req)
	if err != nil || prior.URL == "" {
		return err
	}
	if _, err := p.sqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: &prior.URL}); err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	return nil
}
