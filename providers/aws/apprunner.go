package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	"github.com/aws/aws-sdk-go-v2/service/apprunner/types"

	"github.com/picklr-io/appstack/internal/provider"
)

const serviceStatusPoll = 15 * time.Second

type VpcConnectorConfig struct {
	VpcConnectorName string            `json:"vpcConnectorName"`
	Subnets          []string          `json:"subnets"`
	SecurityGroups   []string          `json:"securityGroups"`
	Tags             map[string]string `json:"tags"`
}

type VpcConnectorState struct {
	ID  string `json:"id"`
	ARN string `json:"arn"`
}

type CodeConfigurationValues struct {
	Runtime                     string            `json:"runtime"`
	Port                        string            `json:"port"`
	BuildCommand                string            `json:"buildCommand"`
	StartCommand                string            `json:"startCommand"`
	RuntimeEnvironmentVariables map[string]string `json:"runtimeEnvironmentVariables"`
	RuntimeEnvironmentSecrets   map[string]string `json:"runtimeEnvironmentSecrets"`
}

type SourceConfiguration struct {
	AutoDeploymentsEnabled  bool                    `json:"autoDeploymentsEnabled"`
	ConnectionArn           string                  `json:"connectionArn"`
	RepositoryURL           string                  `json:"repositoryUrl"`
	Branch                  string                  `json:"branch"`
	ConfigurationSource     string                  `json:"configurationSource"`
	CodeConfigurationValues CodeConfigurationValues `json:"codeConfigurationValues"`
}

type InstanceConfiguration struct {
	Cpu             string `json:"cpu"`
	Memory          string `json:"memory"`
	InstanceRoleArn string `json:"instanceRoleArn"`
}

type EgressConfiguration struct {
	EgressType      string `json:"egressType"`
	VpcConnectorArn string `json:"vpcConnectorArn"`
}

type AppRunnerServiceConfig struct {
	ServiceName           string                `json:"serviceName"`
	SourceConfiguration   SourceConfiguration   `json:"sourceConfiguration"`
	InstanceConfiguration InstanceConfiguration `json:"instanceConfiguration"`
	NetworkConfiguration  struct {
		EgressConfiguration EgressConfiguration `json:"egressConfiguration"`
	} `json:"networkConfiguration"`
	Tags map[string]string `json:"tags"`
}

// AppRunnerServiceState records the URL with its scheme so references
// resolve to a usable address.
type AppRunnerServiceState struct {
	ID  string `json:"id"`
	ARN string `json:"arn"`
	URL string `json:"url"`
}

func apprunnerTags(tags map[string]string) []types.Tag {
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

func (p *Provider) applyVpcConnector(ctx context.Context, req *provider.ApplyRequest) (*VpcConnectorState, error) {
	desired, err := decodeDesired[VpcConnectorConfig](req)
	if err != nil {
		return nil, err
	}
	name := desired.VpcConnectorName
	if name == "" {
		name = req.Name
	}
	resp, err := p.apprunnerClient.CreateVpcConnector(ctx, &apprunner.CreateVpcConnectorInput{
		VpcConnectorName: aws.String(name),
		Subnets:          desired.Subnets,
		SecurityGroups:   desired.SecurityGroups,
		Tags:             apprunnerTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC connector: %w", err)
	}
	arn := aws.ToString(resp.VpcConnector.VpcConnectorArn)
	return &VpcConnectorState{ID: arn, ARN: arn}, nil
}

func (p *Provider) deleteVpcConnector(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[VpcConnectorState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.apprunnerClient.DeleteVpcConnector(ctx, &apprunner.DeleteVpcConnectorInput{
		VpcConnectorArn: &prior.ARN,
	}); err != nil {
		return fmt.Errorf("failed to delete VPC connector: %w", err)
	}
	return nil
}

func (c AppRunnerServiceConfig) source() *types.SourceConfiguration {
	src := c.SourceConfiguration
	values := src.CodeConfigurationValues
	return &types.SourceConfiguration{
		AutoDeploymentsEnabled:      aws.Bool(src.AutoDeploymentsEnabled),
		AuthenticationConfiguration: &types.AuthenticationConfiguration{ConnectionArn: aws.String(src.ConnectionArn)},
		CodeRepository: &types.CodeRepository{
			RepositoryUrl: aws.String(src.RepositoryURL),
			SourceCodeVersion: &types.SourceCodeVersion{
				Type:  types.SourceCodeVersionTypeBranch,
				Value: aws.String(src.Branch),
			},
			CodeConfiguration: &types.CodeConfiguration{
				ConfigurationSource: types.ConfigurationSource(src.ConfigurationSource),
				CodeConfigurationValues: &types.CodeConfigurationValues{
					Runtime:                     types.Runtime(values.Runtime),
					Port:                        aws.String(values.Port),
					BuildCommand:                aws.String(values.BuildCommand),
					StartCommand:                aws.String(values.StartCommand),
					RuntimeEnvironmentVariables: values.RuntimeEnvironmentVariables,
					RuntimeEnvironmentSecrets:   values.RuntimeEnvironmentSecrets,
				},
			},
		},
	}
}

func (c AppRunnerServiceConfig) instance() *types.InstanceConfiguration {
	return &types.InstanceConfiguration{
		Cpu:             aws.String(c.InstanceConfiguration.Cpu),
		Memory:          aws.String(c.InstanceConfiguration.Memory),
		InstanceRoleArn: aws.String(c.InstanceConfiguration.InstanceRoleArn),
	}
}

func (c AppRunnerServiceConfig) network() *types.NetworkConfiguration {
	egress := c.NetworkConfiguration.EgressConfiguration
	cfg := &types.EgressConfiguration{EgressType: types.EgressType(egress.EgressType)}
	if egress.VpcConnectorArn != "" {
		cfg.VpcConnectorArn = aws.String(egress.VpcConnectorArn)
	}
	return &types.NetworkConfiguration{EgressConfiguration: cfg}
}

func (p *Provider) applyAppRunnerService(ctx context.Context, req *provider.ApplyRequest) (*AppRunnerServiceState, error) {
	desired, err := decodeDesired[AppRunnerServiceConfig](req)
	if err != nil {
		return nil, err
	}

	prior, ok, err := decodePrior[AppRunnerServiceState](req)
	if err != nil {
		return nil, err
	}

	var svc *types.Service
	if ok && prior.ARN != "" {
		resp, err := p.apprunnerClient.UpdateService(ctx, &apprunner.UpdateServiceInput{
			ServiceArn:            &prior.ARN,
			SourceConfiguration:   desired.source(),
			InstanceConfiguration: desired.instance(),
			NetworkConfiguration:  desired.network(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update App Runner service: %w", err)
		}
		svc = resp.Service
	} else {
		name := desired.ServiceName
		if name == "" {
			name = req.Name
		}
		resp, err := p.apprunnerClient.CreateService(ctx, &apprunner.CreateServiceInput{
			ServiceName:           aws.String(name),
			SourceConfiguration:   desired.source(),
			InstanceConfiguration: desired.instance(),
			NetworkConfiguration:  desired.network(),
			Tags:                  apprunnerTags(desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create App Runner service: %w", err)
		}
		svc = resp.Service
	}

	arn := aws.ToString(svc.ServiceArn)
	if err := p.waitServiceRunning(ctx, arn); err != nil {
		return nil, err
	}
	return &AppRunnerServiceState{
		ID:  aws.ToString(svc.ServiceId),
		ARN: arn,
		URL: "https://" + aws.ToString(svc.ServiceUrl),
	}, nil
}

// waitServiceRunning polls until the service leaves its in-progress state.
func (p *Provider) waitServiceRunning(ctx context.Context, arn string) error {
	ctx, cancel := context.WithTimeout(ctx, waitLong)
	defer cancel()

	ticker := time.NewTicker(serviceStatusPoll)
	defer ticker.Stop()
	for {
		out, err := p.apprunnerClient.DescribeService(ctx, &apprunner.DescribeServiceInput{ServiceArn: &arn})
		if err != nil {
			return fmt.Errorf("failed to describe App Runner service: %w", err)
		}
		switch out.Service.Status {
		case types.ServiceStatusRunning:
			return nil
		case types.ServiceStatusOperationInProgress:
			p.log.Debug("waiting for App Runner service", "arn", arn)
		default:
			return fmt.Errorf("App Runner service %s entered status %s", arn, out.Service.Status)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for App Runner service %s: %w", arn, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) deleteAppRunnerService(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[AppRunnerServiceState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.apprunnerClient.DeleteService(ctx, &apprunner.DeleteServiceInput{ServiceArn: &prior.ARN}); err != nil {
		return fmt.Errorf("failed to delete App Runner service: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, waitLong)
	defer cancel()
	ticker := time.NewTicker(serviceStatusPoll)
	defer ticker.Stop()
	for {
		out, err := p.apprunnerClient.DescribeService(ctx, &apprunner.DescribeServiceInput{ServiceArn: &prior.ARN})
		if isNotFound(err) || (err == nil && out.Service.Status == types.ServiceStatusDeleted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to describe App Runner service: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out deleting App Runner service %s: %w", prior.ARN, ctx.Err())
		case <-ticker.C:
		}
	}
}
