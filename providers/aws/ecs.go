package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/picklr-io/appstack/internal/provider"
)

type ClusterConfig struct {
	ClusterName string            `json:"clusterName"`
	Tags        map[string]string `json:"tags"`
}

type ClusterState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

type PortMapping struct {
	ContainerPort int32  `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type NameValue struct {
	Name      string `json:"name"`
	Value     string `json:"value,omitempty"`
	ValueFrom string `json:"valueFrom,omitempty"`
}

type ContainerDefinition struct {
	Name         string        `json:"name"`
	Image        string        `json:"image"`
	Cpu          int32         `json:"cpu"`
	Essential    bool          `json:"essential"`
	PortMappings []PortMapping `json:"portMappings"`
	Environment  []NameValue   `json:"environment"`
	Secrets      []NameValue   `json:"secrets"`
}

type TaskDefinitionConfig struct {
	Family           string                `json:"family"`
	Cpu              string                `json:"cpu"`
	Memory           string                `json:"memory"`
	NetworkMode      string                `json:"networkMode"`
	ExecutionRoleArn string                `json:"executionRoleArn"`
	TaskRoleArn      string                `json:"taskRoleArn"`
	Containers       []ContainerDefinition `json:"containers"`
	Tags             map[string]string     `json:"tags"`
}

type TaskDefinitionState struct {
	ID     string `json:"id"`
	ARN    string `json:"arn"`
	Family string `json:"family"`
}

type ServiceNetworkConfig struct {
	SubnetIDs        []string `json:"subnetIds"`
	SecurityGroupIDs []string `json:"securityGroupIds"`
	AssignPublicIP   bool     `json:"assignPublicIp"`
}

type ServiceLoadBalancer struct {
	TargetGroupArn string `json:"targetGroupArn"`
	ContainerName  string `json:"containerName"`
	ContainerPort  int32  `json:"containerPort"`
}

type ServiceConfig struct {
	Cluster              string                `json:"cluster"`
	TaskDefinition       string                `json:"taskDefinition"`
	DesiredCount         int32                 `json:"desiredCount"`
	LaunchType           string                `json:"launchType"`
	EnableExecuteCommand bool                  `json:"enableExecuteCommand"`
	NetworkConfiguration ServiceNetworkConfig  `json:"networkConfiguration"`
	LoadBalancers        []ServiceLoadBalancer `json:"loadBalancers"`
	Tags                 map[string]string     `json:"tags"`
}

type ServiceState struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ARN     string `json:"arn"`
	Cluster string `json:"cluster"`
}

func ecsTags(tags map[string]string) []types.Tag {
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

func (p *Provider) applyCluster(ctx context.Context, req *provider.ApplyRequest) (*ClusterState, error) {
	desired, err := decodeDesired[ClusterConfig](req)
	if err != nil {
		return nil, err
	}
	name := desired.ClusterName
	if name == "" {
		name = req.Name
	}
	resp, err := p.ecsClient.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(name),
		Tags:        ecsTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}
	return &ClusterState{
		ID:   aws.ToString(resp.Cluster.ClusterName),
		Name: aws.ToString(resp.Cluster.ClusterName),
		ARN:  aws.ToString(resp.Cluster.ClusterArn),
	}, nil
}

func (p *Provider) deleteCluster(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[ClusterState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.ecsClient.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: &prior.ARN}); err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	return nil
}

func (c ContainerDefinition) sdk() types.ContainerDefinition {
	def := types.ContainerDefinition{
		Name:      aws.String(c.Name),
		Image:     aws.String(c.Image),
		Cpu:       c.Cpu,
		Essential: aws.Bool(c.Essential),
	}
	for _, m := range c.PortMappings {
		def.PortMappings = append(def.PortMappings, types.PortMapping{
			ContainerPort: aws.Int32(m.ContainerPort),
			Protocol:      types.TransportProtocol(m.Protocol),
		})
	}
	for _, e := range c.Environment {
		def.Environment = append(def.Environment, types.KeyValuePair{Name: aws.String(e.Name), Value: aws.String(e.Value)})
	}
	for _, s := range c.Secrets {
		def.Secrets = append(def.Secrets, types.Secret{Name: aws.String(s.Name), ValueFrom: aws.String(s.ValueFrom)})
	}
	return def
}

func (p *Provider) applyTaskDefinition(ctx context.Context, req *provider.ApplyRequest) (*TaskDefinitionState, error) {
	desired, err := decodeDesired[TaskDefinitionConfig](req)
	if err != nil {
		return nil, err
	}
	family := desired.Family
	if family == "" {
		family = req.Name
	}

	containers := make([]types.ContainerDefinition, 0, len(desired.Containers))
	for _, c := range desired.Containers {
		containers = append(containers, c.sdk())
	}

	resp, err := p.ecsClient.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(family),
		ContainerDefinitions:    containers,
		NetworkMode:             types.NetworkMode(desired.NetworkMode),
		Cpu:                     aws.String(desired.Cpu),
		Memory:                  aws.String(desired.Memory),
		ExecutionRoleArn:        aws.String(desired.ExecutionRoleArn),
		TaskRoleArn:             aws.String(desired.TaskRoleArn),
		RequiresCompatibilities: []types.Compatibility{types.CompatibilityFargate},
		Tags:                    ecsTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition: %w", err)
	}

	arn := aws.ToString(resp.TaskDefinition.TaskDefinitionArn)
	return &TaskDefinitionState{ID: arn, ARN: arn, Family: family}, nil
}

func (p *Provider) deleteTaskDefinition(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[TaskDefinitionState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.ecsClient.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: &prior.ARN,
	}); err != nil {
		return fmt.Errorf("failed to deregister task definition: %w", err)
	}
	return nil
}

func (c ServiceConfig) network() *types.NetworkConfiguration {
	assign := types.AssignPublicIpDisabled
	if c.NetworkConfiguration.AssignPublicIP {
		assign = types.AssignPublicIpEnabled
	}
	return &types.NetworkConfiguration{
		AwsvpcConfiguration: &types.AwsVpcConfiguration{
			Subnets:        c.NetworkConfiguration.SubnetIDs,
			SecurityGroups: c.NetworkConfiguration.SecurityGroupIDs,
			AssignPublicIp: assign,
		},
	}
}

func (c ServiceConfig) loadBalancers() []types.LoadBalancer {
	out := make([]types.LoadBalancer, 0, len(c.LoadBalancers))
	for _, lb := range c.LoadBalancers {
		out = append(out, types.LoadBalancer{
			TargetGroupArn: aws.String(lb.TargetGroupArn),
			ContainerName:  aws.String(lb.ContainerName),
			ContainerPort:  aws.Int32(lb.ContainerPort),
		})
	}
	return out
}

// applyService creates the service on first apply and rolls a new
// deployment on later ones, then waits for it to settle.
func (p *Provider) applyService(ctx context.Context, req *provider.ApplyRequest) (*ServiceState, error) {
	desired, err := decodeDesired[ServiceConfig](req)
	if err != nil {
		return nil, err
	}

	prior, ok, err := decodePrior[ServiceState](req)
	if err != nil {
		return nil, err
	}

	var state ServiceState
	if ok && prior.ARN != "" {
		resp, err := p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:              &prior.Cluster,
			Service:              &prior.ARN,
			TaskDefinition:       &desired.TaskDefinition,
			DesiredCount:         aws.Int32(desired.DesiredCount),
			NetworkConfiguration: desired.network(),
			LoadBalancers:        desired.loadBalancers(),
			EnableExecuteCommand: aws.Bool(desired.EnableExecuteCommand),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update service: %w", err)
		}
		state = ServiceState{
			ID:      aws.ToString(resp.Service.ServiceName),
			Name:    aws.ToString(resp.Service.ServiceName),
			ARN:     aws.ToString(resp.Service.ServiceArn),
			Cluster: prior.Cluster,
		}
	} else {
		resp, err := p.ecsClient.CreateService(ctx, &ecs.CreateServiceInput{
			Cluster:              &desired.Cluster,
			ServiceName:          aws.String(req.Name),
			TaskDefinition:       &desired.TaskDefinition,
			DesiredCount:         aws.Int32(desired.DesiredCount),
			LaunchType:           types.LaunchType(desired.LaunchType),
			NetworkConfiguration: desired.network(),
			LoadBalancers:        desired.loadBalancers(),
			EnableExecuteCommand: desired.EnableExecuteCommand,
			Tags:                 ecsTags(desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create service: %w", err)
		}
		state = ServiceState{
			ID:      aws.ToString(resp.Service.ServiceName),
			Name:    aws.ToString(resp.Service.ServiceName),
			ARN:     aws.ToString(resp.Service.ServiceArn),
			Cluster: desired.Cluster,
		}
	}

	if err := ecs.NewServicesStableWaiter(p.ecsClient).Wait(ctx, &ecs.DescribeServicesInput{
		Cluster:  &state.Cluster,
		Services: []string{state.ARN},
	}, waitLong); err != nil {
		return nil, fmt.Errorf("service %s did not stabilize: %w", req.Name, err)
	}
	return &state, nil
}

func (p *Provider) deleteService(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[ServiceState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.ecsClient.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: &prior.Cluster,
		Service: &prior.ARN,
		Force:   aws.Bool(true),
	}); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return ecs.NewServicesInactiveWaiter(p.ecsClient).Wait(ctx, &ecs.DescribeServicesInput{
		Cluster:  &prior.Cluster,
		Services: []string{prior.ARN},
	}, waitLong)
}
