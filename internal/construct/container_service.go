package construct

import (
	"fmt"

	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeCluster        = "aws:ECS.Cluster"
	typeTaskDefinition = "aws:ECS.TaskDefinition"
	typeECSService     = "aws:ECS.Service"
	typeLoadBalancer   = "aws:ELB.LoadBalancer"
	typeTargetGroup    = "aws:ELB.TargetGroup"
	typeListener       = "aws:ELB.Listener"
)

// Container service defaults.
const (
	DefaultCPU           = 256
	DefaultMemoryMiB     = 512
	DefaultDesiredCount  = 1
	DefaultContainerPort = 8000
	listenerPort         = 80
)

type ContainerServiceProps struct {
	Network *Network
	Image   string
	CPU     int
	Memory  int
	// DesiredCount defaults to 1.
	DesiredCount  int
	ContainerPort int
	// PublicLoadBalancer defaults to true.
	PublicLoadBalancer *bool
	Environment        map[string]string
	Secrets            map[string]SecretField
}

// ContainerService is a load-balanced Fargate service.
type ContainerService struct {
	stack *Stack
	id    string
	props ContainerServiceProps
	env   runtimeEnv

	Cluster        Ref
	ExecutionRole  Ref
	TaskRole       Ref
	LoadBalancer   Ref
	TargetGroup    Ref
	Listener       Ref
	TaskDefinition Ref
	Service        Ref

	lbGroup      Ref
	serviceGroup Ref
	subnets      SubnetSet
}

func NewContainerService(s *Stack, id string, props ContainerServiceProps) (*ContainerService, error) {
	if props.Network == nil {
		return nil, fmt.Errorf("container service %s: %w", id, ErrMissingNetwork)
	}
	if props.Image == "" {
		return nil, fmt.Errorf("container service %s: %w", id, ErrMissingImage)
	}
	if props.CPU == 0 {
		props.CPU = DefaultCPU
	}
	if props.Memory == 0 {
		props.Memory = DefaultMemoryMiB
	}
	if props.DesiredCount == 0 {
		props.DesiredCount = DefaultDesiredCount
	}
	if props.ContainerPort == 0 {
		props.ContainerPort = DefaultContainerPort
	}
	public := props.PublicLoadBalancer == nil || *props.PublicLoadBalancer

	subnets, err := props.Network.SelectSubnets(SubnetSelection{Kind: Public, OnePerAZ: true})
	if err != nil {
		return nil, fmt.Errorf("container service %s: %w", id, err)
	}

	c := &ContainerService{stack: s, id: id, props: props, env: newRuntimeEnv(), subnets: subnets}
	vpc := props.Network.Vpc()

	if c.Cluster, err = s.Add(&ir.Resource{
		Type:       typeCluster,
		Name:       id,
		Properties: map[string]any{"clusterName": id},
	}); err != nil {
		return nil, err
	}
	if c.ExecutionRole, err = addRole(s, resourceName(id, "execution-role"), "ecs-tasks.amazonaws.com", policyECSTaskExecution); err != nil {
		return nil, err
	}
	if c.TaskRole, err = addRole(s, resourceName(id, "task-role"), "ecs-tasks.amazonaws.com"); err != nil {
		return nil, err
	}
	if _, err = addRolePolicy(s, c.TaskRole, "exec", allowPolicy("*",
		"ssmmessages:CreateControlChannel", "ssmmessages:CreateDataChannel",
		"ssmmessages:OpenControlChannel", "ssmmessages:OpenDataChannel")); err != nil {
		return nil, err
	}

	if c.lbGroup, err = addSecurityGroup(s, resourceName(id, "lb-sg"), vpc,
		fmt.Sprintf("Load balancer for %s", id), cidrIngress(anyIPv4, listenerPort)); err != nil {
		return nil, err
	}
	if c.serviceGroup, err = addSecurityGroup(s, resourceName(id, "sg"), vpc,
		fmt.Sprintf("Service %s", id)); err != nil {
		return nil, err
	}
	if _, err = allowIngress(s, c.serviceGroup, groupOf(c.lbGroup), props.ContainerPort); err != nil {
		return nil, err
	}

	scheme := string(elbtypes.LoadBalancerSchemeEnumInternal)
	if public {
		scheme = string(elbtypes.LoadBalancerSchemeEnumInternetFacing)
	}
	if c.LoadBalancer, err = s.Add(&ir.Resource{
		Type: typeLoadBalancer,
		Name: id,
		Properties: map[string]any{
			"type":           string(elbtypes.LoadBalancerTypeEnumApplication),
			"scheme":         scheme,
			"subnetIds":      subnets.IDs(),
			"securityGroups": []any{c.lbGroup.Attr("id")},
		},
	}); err != nil {
		return nil, err
	}
	if c.TargetGroup, err = s.Add(&ir.Resource{
		Type: typeTargetGroup,
		Name: id,
		Properties: map[string]any{
			"vpcId":           vpc.Attr("id"),
			"port":            props.ContainerPort,
			"protocol":        string(elbtypes.ProtocolEnumHttp),
			"targetType":      string(elbtypes.TargetTypeEnumIp),
			"healthCheckPath": "/",
		},
	}); err != nil {
		return nil, err
	}
	if c.Listener, err = s.Add(&ir.Resource{
		Type: typeListener,
		Name: id,
		Properties: map[string]any{
			"loadBalancerArn": c.LoadBalancer.Attr("arn"),
			"port":            listenerPort,
			"protocol":        string(elbtypes.ProtocolEnumHttp),
			"targetGroupArn":  c.TargetGroup.Attr("arn"),
		},
	}); err != nil {
		return nil, err
	}

	for k, v := range props.Environment {
		if err := c.AddEnvironment(k, v); err != nil {
			return nil, err
		}
	}
	for k, f := range props.Secrets {
		if err := c.AddSecret(k, f); err != nil {
			return nil, err
		}
	}

	// A new revision is registered before the old one is deregistered, so
	// the service always has a live task definition.
	if c.TaskDefinition, err = s.Add(&ir.Resource{
		Type:       typeTaskDefinition,
		Name:       id,
		Lifecycle:  &ir.Lifecycle{CreateBeforeDestroy: true},
		Properties: c.taskProps(),
	}); err != nil {
		return nil, err
	}
	if c.Service, err = s.Add(&ir.Resource{
		Type:       typeECSService,
		Name:       id,
		DependsOn:  []string{c.Listener.Addr()},
		Timeout:    slowApplyTimeout,
		Properties: c.serviceProps(),
	}); err != nil {
		return nil, err
	}
	s.onSynth(func() error {
		return s.replace(c.TaskDefinition, c.taskProps())
	})
	return c, nil
}

func (c *ContainerService) taskProps() map[string]any {
	return map[string]any{
		"family":           c.id,
		"cpu":              fmt.Sprintf("%d", c.props.CPU),
		"memory":           fmt.Sprintf("%d", c.props.Memory),
		"networkMode":      string(ecstypes.NetworkModeAwsvpc),
		"executionRoleArn": c.ExecutionRole.Attr("arn"),
		"taskRoleArn":      c.TaskRole.Attr("arn"),
		"containers": []any{
			map[string]any{
				"name":         "web",
				"image":        c.props.Image,
				"essential":    true,
				"portMappings": []any{map[string]any{"containerPort": c.props.ContainerPort, "protocol": string(ecstypes.TransportProtocolTcp)}},
				"environment":  c.env.nameValues(),
				"secrets":      c.env.nameValueFroms(),
			},
		},
	}
}

func (c *ContainerService) serviceProps() map[string]any {
	return map[string]any{
		"cluster":              c.Cluster.Attr("arn"),
		"taskDefinition":       c.TaskDefinition.Attr("arn"),
		"desiredCount":         c.props.DesiredCount,
		"launchType":           string(ecstypes.LaunchTypeFargate),
		"enableExecuteCommand": true,
		"networkConfiguration": map[string]any{
			"subnetIds":        c.subnets.IDs(),
			"securityGroupIds": []any{c.serviceGroup.Attr("id")},
			"assignPublicIp":   true,
		},
		"loadBalancers": []any{
			map[string]any{
				"targetGroupArn": c.TargetGroup.Attr("arn"),
				"containerName":  "web",
				"containerPort":  c.props.ContainerPort,
			},
		},
	}
}

func (c *ContainerService) SecurityGroup() (Ref, bool) {
	return c.serviceGroup, true
}

func (c *ContainerService) Role() Ref {
	return c.TaskRole
}

func (c *ContainerService) AddEnvironment(key, value string) error {
	if err := c.env.setVar(key, value); err != nil {
		return fmt.Errorf("container service %s: %w", c.id, err)
	}
	return nil
}

// AddSecret injects one secret key as an environment variable and lets the
// execution role read it.
func (c *ContainerService) AddSecret(key string, field SecretField) error {
	if err := c.env.setSecret(key, field); err != nil {
		return fmt.Errorf("container service %s: %w", c.id, err)
	}
	return grantSecretRead(c.stack, c.ExecutionRole, field.Secret)
}

func (c *ContainerService) URL() string {
	return "http://" + c.LoadBalancer.Interp("dnsName")
}

// groupOf adapts a bare security group to Connectable.
type groupOf Ref

func (g groupOf) SecurityGroup() (Ref, bool) {
	return Ref(g), true
}
