package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/picklr-io/appstack/internal/provider"
)

type LoadBalancerConfig struct {
	Type           string            `json:"type"`
	Scheme         string            `json:"scheme"`
	SubnetIDs      []string          `json:"subnetIds"`
	SecurityGroups []string          `json:"securityGroups"`
	Tags           map[string]string `json:"tags"`
}

type LoadBalancerState struct {
	ID      string `json:"id"`
	ARN     string `json:"arn"`
	DNSName string `json:"dnsName"`
}

type TargetGroupConfig struct {
	VpcID           string            `json:"vpcId"`
	Port            int32             `json:"port"`
	Protocol        string            `json:"protocol"`
	TargetType      string            `json:"targetType"`
	HealthCheckPath string            `json:"healthCheckPath"`
	Tags            map[string]string `json:"tags"`
}

type TargetGroupState struct {
	ID  string `json:"id"`
	ARN string `json:"arn"`
}

type ListenerConfig struct {
	LoadBalancerArn string `json:"loadBalancerArn"`
	Port            int32  `json:"port"`
	Protocol        string `json:"protocol"`
	TargetGroupArn  string `json:"targetGroupArn"`
}

type ListenerState struct {
	ID  string `json:"id"`
	ARN string `json:"arn"`
}

func elbTags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func (p *Provider) applyLoadBalancer(ctx context.Context, req *provider.ApplyRequest) (*LoadBalancerState, error) {
	desired, err := decodeDesired[LoadBalancerConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:           aws.String(req.Name),
		Type:           types.LoadBalancerTypeEnum(desired.Type),
		Scheme:         types.LoadBalancerSchemeEnum(desired.Scheme),
		Subnets:        desired.SubnetIDs,
		SecurityGroups: desired.SecurityGroups,
		Tags:           elbTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	lb := resp.LoadBalancers[0]

	if err := elasticloadbalancingv2.NewLoadBalancerAvailableWaiter(p.elbv2Client).Wait(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{aws.ToString(lb.LoadBalancerArn)},
	}, waitShort); err != nil {
		return nil, fmt.Errorf("load balancer %s did not become active: %w", req.Name, err)
	}

	return &LoadBalancerState{
		ID:      aws.ToString(lb.LoadBalancerName),
		ARN:     aws.ToString(lb.LoadBalancerArn),
		DNSName: aws.ToString(lb.DNSName),
	}, nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[LoadBalancerState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: &prior.ARN,
	}); err != nil {
		return fmt.Errorf("failed to delete load balancer: %w", err)
	}
	return elasticloadbalancingv2.NewLoadBalancersDeletedWaiter(p.elbv2Client).Wait(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{prior.ARN},
	}, waitShort)
}

func (p *Provider) applyTargetGroup(ctx context.Context, req *provider.ApplyRequest) (*TargetGroupState, error) {
	desired, err := decodeDesired[TargetGroupConfig](req)
	if err != nil {
		return nil, err
	}

	input := &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:       aws.String(req.Name),
		Port:       aws.Int32(desired.Port),
		Protocol:   types.ProtocolEnum(desired.Protocol),
		VpcId:      &desired.VpcID,
		TargetType: types.TargetTypeEnum(desired.TargetType),
		Tags:       elbTags(desired.Tags),
	}
	if desired.HealthCheckPath != "" {
		input.HealthCheckPath = &desired.HealthCheckPath
	}

	resp, err := p.elbv2Client.CreateTargetGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create target group: %w", err)
	}
	arn := aws.ToString(resp.TargetGroups[0].TargetGroupArn)
	return &TargetGroupState{ID: aws.ToString(resp.TargetGroups[0].TargetGroupName), ARN: arn}, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[TargetGroupState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: &prior.ARN,
	}); err != nil {
		return fmt.Errorf("failed to delete target group: %w", err)
	}
	return nil
}

// applyListener forwards every request on the listener port to one target
// group.
func (p *Provider) applyListener(ctx context.Context, req *provider.ApplyRequest) (*ListenerState, error) {
	desired, err := decodeDesired[ListenerConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.elbv2Client.CreateListener(ctx, &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: &desired.LoadBalancerArn,
		Port:            aws.Int32(desired.Port),
		Protocol:        types.ProtocolEnum(desired.Protocol),
		DefaultActions: []types.Action{{
			Type:           types.ActionTypeEnumForward,
			TargetGroupArn: &desired.TargetGroupArn,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	arn := aws.ToString(resp.Listeners[0].ListenerArn)
	return &ListenerState{ID: arn, ARN: arn}, nil
}

func (p *Provider) deleteListener(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[ListenerState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.elbv2Client.DeleteListener(ctx, &elasticloadbalancingv2.DeleteListenerInput{
		ListenerArn: &prior.ARN,
	}); err != nil {
		return fmt.Errorf("failed to delete listener: %w", err)
	}
	return nil
}
