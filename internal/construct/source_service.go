package construct

import (
	"fmt"
	"strconv"

	apprunnertypes "github.com/aws/aws-sdk-go-v2/service/apprunner/types"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeVpcConnector     = "aws:AppRunner.VpcConnector"
	typeAppRunnerService = "aws:AppRunner.Service"
)

const DefaultSourceRuntime = string(apprunnertypes.RuntimePython3)

type SourceServiceProps struct {
	// Network and Subnets are optional. With them the service egresses
	// through a VPC connector placed in Subnets.
	Network *Network
	Subnets *SubnetSet

	Repository    string
	Branch        string
	Runtime       string
	BuildCommand  string
	StartCommand  string
	Port          int
	ConnectionArn string
	CPU           string
	Memory        string
}

// SourceService builds and runs an API straight from a source repository on
// a managed runtime, redeploying on every push.
type SourceService struct {
	stack *Stack
	id    string
	props SourceServiceProps
	env   runtimeEnv

	InstanceRole Ref
	Connector    Ref
	Service      Ref
	group        Ref
}

func NewSourceService(s *Stack, id string, props SourceServiceProps) (*SourceService, error) {
	if props.ConnectionArn == "" {
		return nil, fmt.Errorf("source service %s: %w", id, ErrMissingConnection)
	}
	if props.Repository == "" || props.Branch == "" {
		return nil, fmt.Errorf("source service %s: repository and branch are required", id)
	}
	if props.Port <= 0 {
		return nil, fmt.Errorf("source service %s: port is required", id)
	}
	if props.Runtime == "" {
		props.Runtime = DefaultSourceRuntime
	}
	if props.CPU == "" {
		props.CPU = "1024"
	}
	if props.Memory == "" {
		props.Memory = "2048"
	}

	src := &SourceService{stack: s, id: id, props: props, env: newRuntimeEnv()}
	var err error

	if props.Network != nil {
		subnets := props.Subnets
		if subnets == nil {
			sel, err := props.Network.SelectSubnets(SubnetSelection{Kind: Isolated, OnePerAZ: true})
			if err != nil {
				return nil, fmt.Errorf("source service %s: %w", id, err)
			}
			subnets = &sel
		}
		if src.group, err = addSecurityGroup(s, resourceName(id, "sg"), props.Network.Vpc(),
			"SecurityGroup associated with the App Runner Service"); err != nil {
			return nil, err
		}
		if src.Connector, err = s.Add(&ir.Resource{
			Type: typeVpcConnector,
			Name: id,
			Properties: map[string]any{
				"vpcConnectorName": id,
				"subnets":          subnets.IDs(),
				"securityGroups":   []any{src.group.Attr("id")},
			},
		}); err != nil {
			return nil, err
		}
	}

	if src.InstanceRole, err = addRole(s, resourceName(id, "instance-role"), "tasks.apprunner.amazonaws.com"); err != nil {
		return nil, err
	}
	if src.Service, err = s.Add(&ir.Resource{
		Type:       typeAppRunnerService,
		Name:       id,
		Timeout:    slowApplyTimeout,
		Properties: src.serviceProps(),
	}); err != nil {
		return nil, err
	}
	s.onSynth(func() error {
		return s.replace(src.Service, src.serviceProps())
	})
	return src, nil
}

func (src *SourceService) serviceProps() map[string]any {
	egress := map[string]any{"egressType": string(apprunnertypes.EgressTypeDefault)}
	if !src.Connector.IsZero() {
		egress = map[string]any{
			"egressType":      string(apprunnertypes.EgressTypeVpc),
			"vpcConnectorArn": src.Connector.Attr("arn"),
		}
	}
	return map[string]any{
		"serviceName": src.id,
		"sourceConfiguration": map[string]any{
			"autoDeploymentsEnabled": true,
			"connectionArn":          src.props.ConnectionArn,
			"repositoryUrl":          src.props.Repository,
			"branch":                 src.props.Branch,
			"configurationSource":    string(apprunnertypes.ConfigurationSourceApi),
			"codeConfigurationValues": map[string]any{
				"runtime":                     src.props.Runtime,
				"port":                        strconv.Itoa(src.props.Port),
				"buildCommand":                src.props.BuildCommand,
				"startCommand":                src.props.StartCommand,
				"runtimeEnvironmentVariables": src.env.varMap(),
				"runtimeEnvironmentSecrets":   src.env.secretMap(),
			},
		},
		"instanceConfiguration": map[string]any{
			"cpu":             src.props.CPU,
			"memory":          src.props.Memory,
			"instanceRoleArn": src.InstanceRole.Attr("arn"),
		},
		"networkConfiguration": map[string]any{"egressConfiguration": egress},
	}
}

// SecurityGroup is only present when the service egresses through a VPC.
func (src *SourceService) SecurityGroup() (Ref, bool) {
	return src.group, !src.group.IsZero()
}

func (src *SourceService) Role() Ref {
	return src.InstanceRole
}

func (src *SourceService) AddEnvironment(key, value string) error {
	if err := src.env.setVar(key, value); err != nil {
		return fmt.Errorf("source service %s: %w", src.id, err)
	}
	return nil
}

// AddSecret injects one secret key as an environment variable and lets the
// instance role read it.
func (src *SourceService) AddSecret(key string, field SecretField) error {
	if err := src.env.setSecret(key, field); err != nil {
		return fmt.Errorf("source service %s: %w", src.id, err)
	}
	return grantSecretRead(src.stack, src.InstanceRole, field.Secret)
}

func (src *SourceService) URL() string {
	return src.Service.Interp("url")
}
