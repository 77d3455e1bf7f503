// Package aws provisions synthesized resources against the AWS APIs.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/appstack/internal/logging"
	"github.com/picklr-io/appstack/internal/provider"
)

const defaultRegion = "us-east-1"

type Provider struct {
	region string
	log    *slog.Logger

	ec2Client            *ec2.Client
	iamClient            *iam.Client
	rdsClient            *rds.Client
	secretsmanagerClient *secretsmanager.Client
	sqsClient            *sqs.Client
	lambdaClient         *lambda.Client
	ecsClient            *ecs.Client
	elbv2Client          *elasticloadbalancingv2.Client
	apprunnerClient      *apprunner.Client
	ssmClient            *ssm.Client
	stsClient            *sts.Client
}

func New() *Provider {
	return &Provider{log: logging.With("provider.aws")}
}

func (p *Provider) configured() bool {
	return p.ec2Client != nil
}

func (p *Provider) ensureClient(ctx context.Context, region, profile string) error {
	if p.configured() {
		return nil
	}
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.region = region
	p.ec2Client = ec2.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.rdsClient = rds.NewFromConfig(cfg)
	p.secretsmanagerClient = secretsmanager.NewFromConfig(cfg)
	p.sqsClient = sqs.NewFromConfig(cfg)
	p.lambdaClient = lambda.NewFromConfig(cfg)
	p.ecsClient = ecs.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.apprunnerClient = apprunner.NewFromConfig(cfg)
	p.ssmClient = ssm.NewFromConfig(cfg)
	p.stsClient = sts.NewFromConfig(cfg)
	return nil
}

// Configure loads credentials and checks them against STS so a bad profile
// fails before planning starts.
func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	if err := p.ensureClient(ctx, req.Region, req.Profile); err != nil {
		return configureError("Failed to load AWS config", err), nil
	}
	id, err := p.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return configureError("Failed to verify AWS credentials", err), nil
	}
	p.log.Info("configured", "region", p.region, "account", aws.ToString(id.Account))
	return &provider.ConfigureResponse{}, nil
}

func configureError(summary string, err error) *provider.ConfigureResponse {
	return &provider.ConfigureResponse{
		Diagnostics: []*provider.Diagnostic{{
			Severity: provider.SeverityError,
			Summary:  summary,
			Detail:   err.Error(),
		}},
	}
}

// inPlace lists the types whose changed inputs are applied as updates
// rather than replacements.
var inPlace = map[string]bool{
	typeRolePolicy:       true,
	typeFunction:         true,
	typeECSService:       true,
	typeAppRunnerService: true,
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	resp := provider.DefaultPlan(req)
	if resp.Action == provider.Replace && inPlace[req.Type] {
		resp.Action = provider.Update
	}
	return resp, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClient(ctx, p.region, ""); err != nil {
		return nil, err
	}

	var (
		state any
		err   error
	)
	switch req.Type {
	case typeVpc:
		state, err = p.applyVpc(ctx, req)
	case typeSubnet:
		state, err = p.applySubnet(ctx, req)
	case typeInternetGateway:
		state, err = p.applyInternetGateway(ctx, req)
	case typeRouteTable:
		state, err = p.applyRouteTable(ctx, req)
	case typeSecurityGroup:
		state, err = p.applySecurityGroup(ctx, req)
	case typeSecurityGroupIngress:
		state, err = p.applySecurityGroupIngress(ctx, req)
	case typeInstance:
		state, err = p.applyInstance(ctx, req)
	case typeRole:
		state, err = p.applyRole(ctx, req)
	case typeRolePolicy:
		state, err = p.applyRolePolicy(ctx, req)
	case typeInstanceProfile:
		state, err = p.applyInstanceProfile(ctx, req)
	case typeDBSubnetGroup:
		state, err = p.applyDBSubnetGroup(ctx, req)
	case typeDBInstance:
		state, err = p.applyDBInstance(ctx, req)
	case typeSecret:
		state, err = p.applySecret(ctx, req)
	case typeSecretTargetAttachment:
		state, err = p.applySecretTargetAttachment(ctx, req)
	case typeQueue:
		state, err = p.applyQueue(ctx, req)
	case typeFunction:
		state, err = p.applyFunction(ctx, req)
	case typeEventSourceMapping:
		state, err = p.applyEventSourceMapping(ctx, req)
	case typeCluster:
		state, err = p.applyCluster(ctx, req)
	case typeTaskDefinition:
		state, err = p.applyTaskDefinition(ctx, req)
	case typeECSService:
		state, err = p.applyService(ctx, req)
	case typeLoadBalancer:
		state, err = p.applyLoadBalancer(ctx, req)
	case typeTargetGroup:
		state, err = p.applyTargetGroup(ctx, req)
	case typeListener:
		state, err = p.applyListener(ctx, req)
	case typeVpcConnector:
		state, err = p.applyVpcConnector(ctx, req)
	case typeAppRunnerService:
		state, err = p.applyAppRunnerService(ctx, req)
	default:
		return nil, fmt.Errorf("unknown resource type: %s", req.Type)
	}
	if err != nil {
		return nil, err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if err := p.ensureClient(ctx, p.region, ""); err != nil {
		return nil, err
	}

	var err error
	switch req.Type {
	case typeVpc:
		err = p.deleteVpc(ctx, req)
	case typeSubnet:
		err = p.deleteSubnet(ctx, req)
	case typeInternetGateway:
		err = p.deleteInternetGateway(ctx, req)
	case typeRouteTable:
		err = p.deleteRouteTable(ctx, req)
	case typeSecurityGroup:
		err = p.deleteSecurityGroup(ctx, req)
	case typeSecurityGroupIngress:
		err = p.deleteSecurityGroupIngress(ctx, req)
	case typeInstance:
		err = p.deleteInstance(ctx, req)
	case typeRole:
		err = p.deleteRole(ctx, req)
	case typeRolePolicy:
		err = p.deleteRolePolicy(ctx, req)
	case typeInstanceProfile:
		err = p.deleteInstanceProfile(ctx, req)
	case typeDBSubnetGroup:
		err = p.deleteDBSubnetGroup(ctx, req)
	case typeDBInstance:
		err = p.deleteDBInstance(ctx, req)
	case typeSecret:
		err = p.deleteSecret(ctx, req)
	case typeSecretTargetAttachment:
		// the connection details live in the secret and go with it
	case typeQueue:
		err = p.deleteQueue(ctx, req)
	case typeFunction:
		err = p.deleteFunction(ctx, req)
	case typeEventSourceMapping:
		err = p.deleteEventSourceMapping(ctx, req)
	case typeCluster:
		err = p.deleteCluster(ctx, req)
	case typeTaskDefinition:
		err = p.deleteTaskDefinition(ctx, req)
	case typeECSService:
		err = p.deleteService(ctx, req)
	case typeLoadBalancer:
		err = p.deleteLoadBalancer(ctx, req)
	case typeTargetGroup:
		err = p.deleteTargetGroup(ctx, req)
	case typeListener:
		err = p.deleteListener(ctx, req)
	case typeVpcConnector:
		err = p.deleteVpcConnector(ctx, req)
	case typeAppRunnerService:
		err = p.deleteAppRunnerService(ctx, req)
	default:
		return nil, fmt.Errorf("unknown resource type: %s", req.Type)
	}
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return &provider.DeleteResponse{}, nil
}

func decodeDesired[T any](req *provider.ApplyRequest) (T, error) {
	var desired T
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return desired, fmt.Errorf("failed to unmarshal desired config for %s: %w", req.Name, err)
	}
	return desired, nil
}

// decodePrior returns the previous state, if the engine sent one.
func decodePrior[T any](req *provider.ApplyRequest) (T, bool, error) {
	var prior T
	if len(req.PriorStateJSON) == 0 {
		return prior, false, nil
	}
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return prior, false, fmt.Errorf("failed to unmarshal prior state for %s: %w", req.Name, err)
	}
	return prior, true, nil
}

func decodeCurrent[T any](req *provider.DeleteRequest) (T, error) {
	var current T
	if len(req.CurrentStateJSON) == 0 {
		return current, nil
	}
	if err := json.Unmarshal(req.CurrentStateJSON, &current); err != nil {
		return current, fmt.Errorf("failed to unmarshal state for %s: %w", req.Name, err)
	}
	return current, nil
}

// notFoundCodes are the error codes the services return for a resource that
// is already gone.
var notFoundCodes = map[string]bool{
	"InvalidVpcID.NotFound":             true,
	"InvalidSubnetID.NotFound":          true,
	"InvalidInternetGatewayID.NotFound": true,
	"InvalidRouteTableID.NotFound":      true,
	"InvalidGroup.NotFound":             true,
	"InvalidPermission.NotFound":        true,
	"InvalidInstanceID.NotFound":        true,

	"NoSuchEntity":               true,
	"DBInstanceNotFound":         true,
	"DBSubnetGroupNotFoundFault": true,
	"ResourceNotFoundException":  true,
	"ClusterNotFoundException":   true,
	"ServiceNotFoundException":   true,
	"LoadBalancerNotFound":       true,
	"TargetGroupNotFound":        true,
	"ListenerNotFound":           true,

	"AWS.SimpleQueueService.NonExistentQueue": true,
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return notFoundCodes[apiErr.ErrorCode()]
	}
	return false
}
