package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/picklr-io/appstack/internal/provider"
)

// Maximum waits for resources that become usable asynchronously.
const (
	waitShort = 5 * time.Minute
	waitLong  = 40 * time.Minute
)

type SecurityGroupRule struct {
	IpProtocol string `json:"ipProtocol"`
	FromPort   int32  `json:"fromPort"`
	ToPort     int32  `json:"toPort"`
	CidrIp     string `json:"cidrIp"`
}

type SecurityGroupConfig struct {
	GroupName        string              `json:"groupName"`
	Description      string              `json:"description"`
	VpcID            string              `json:"vpcId"`
	Ingress          []SecurityGroupRule `json:"ingress"`
	AllowAllOutbound bool                `json:"allowAllOutbound"`
	Tags             map[string]string   `json:"tags"`
}

type SecurityGroupState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SecurityGroupIngressConfig struct {
	GroupID               string `json:"groupId"`
	SourceSecurityGroupID string `json:"sourceSecurityGroupId"`
	IpProtocol            string `json:"ipProtocol"`
	FromPort              int32  `json:"fromPort"`
	ToPort                int32  `json:"toPort"`
}

type SecurityGroupIngressState struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
}

type InstanceConfig struct {
	ImageID            string            `json:"imageId"`
	ImageParameter     string            `json:"imageParameter"`
	InstanceType       string            `json:"instanceType"`
	SubnetID           string            `json:"subnetId"`
	SecurityGroupIDs   []string          `json:"securityGroupIds"`
	IamInstanceProfile string            `json:"iamInstanceProfile"`
	Tags               map[string]string `json:"tags"`
}

type InstanceState struct {
	ID        string `json:"id"`
	ImageID   string `json:"imageId"`
	PrivateIP string `json:"privateIp"`
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *provider.ApplyRequest) (*SecurityGroupState, error) {
	desired, err := decodeDesired[SecurityGroupConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         &desired.GroupName,
		Description:       &desired.Description,
		VpcId:             &desired.VpcID,
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group: %w", err)
	}
	groupID := *resp.GroupId

	if len(desired.Ingress) > 0 {
		perms := make([]types.IpPermission, 0, len(desired.Ingress))
		for _, rule := range desired.Ingress {
			perms = append(perms, types.IpPermission{
				IpProtocol: aws.String(rule.IpProtocol),
				FromPort:   aws.Int32(rule.FromPort),
				ToPort:     aws.Int32(rule.ToPort),
				IpRanges:   []types.IpRange{{CidrIp: aws.String(rule.CidrIp)}},
			})
		}
		if _, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: perms,
		}); err != nil {
			return nil, fmt.Errorf("failed to authorize ingress on %s: %w", groupID, err)
		}
	}

	// New groups allow all egress already; revoke it when outbound is closed.
	if !desired.AllowAllOutbound {
		if _, err := p.ec2Client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId: &groupID,
			IpPermissions: []types.IpPermission{{
				IpProtocol: aws.String("-1"),
				IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			}},
		}); err != nil {
			return nil, fmt.Errorf("failed to revoke default egress on %s: %w", groupID, err)
		}
	}

	return &SecurityGroupState{ID: groupID, Name: desired.GroupName}, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[SecurityGroupState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &prior.ID}); err != nil {
		return fmt.Errorf("failed to delete security group: %w", err)
	}
	return nil
}

func (p *Provider) applySecurityGroupIngress(ctx context.Context, req *provider.ApplyRequest) (*SecurityGroupIngressState, error) {
	desired, err := decodeDesired[SecurityGroupIngressConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: &desired.GroupID,
		IpPermissions: []types.IpPermission{{
			IpProtocol:       aws.String(desired.IpProtocol),
			FromPort:         aws.Int32(desired.FromPort),
			ToPort:           aws.Int32(desired.ToPort),
			UserIdGroupPairs: []types.UserIdGroupPair{{GroupId: aws.String(desired.SourceSecurityGroupID)}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authorize ingress from %s: %w", desired.SourceSecurityGroupID, err)
	}
	if len(resp.SecurityGroupRules) == 0 {
		return nil, fmt.Errorf("ingress on %s returned no rule", desired.GroupID)
	}

	return &SecurityGroupIngressState{
		ID:      aws.ToString(resp.SecurityGroupRules[0].SecurityGroupRuleId),
		GroupID: desired.GroupID,
	}, nil
}

func (p *Provider) deleteSecurityGroupIngress(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[SecurityGroupIngressState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:              &prior.GroupID,
		SecurityGroupRuleIds: []string{prior.ID},
	}); err != nil {
		return fmt.Errorf("failed to revoke ingress rule: %w", err)
	}
	return nil
}

// resolveImage returns the AMI to launch, reading it from a public SSM
// parameter when no id is pinned.
func (p *Provider) resolveImage(ctx context.Context, desired InstanceConfig) (string, error) {
	if desired.ImageID != "" {
		return desired.ImageID, nil
	}
	if desired.ImageParameter == "" {
		return "", fmt.Errorf("instance needs imageId or imageParameter")
	}
	out, err := p.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{Name: &desired.ImageParameter})
	if err != nil {
		return "", fmt.Errorf("failed to read AMI parameter %s: %w", desired.ImageParameter, err)
	}
	return aws.ToString(out.Parameter.Value), nil
}

func (p *Provider) applyInstance(ctx context.Context, req *provider.ApplyRequest) (*InstanceState, error) {
	desired, err := decodeDesired[InstanceConfig](req)
	if err != nil {
		return nil, err
	}
	imageID, err := p.resolveImage(ctx, desired)
	if err != nil {
		return nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(imageID),
		InstanceType:      types.InstanceType(desired.InstanceType),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		SubnetId:          &desired.SubnetID,
		SecurityGroupIds:  desired.SecurityGroupIDs,
		TagSpecifications: tagSpec(types.ResourceTypeInstance, desired.Tags),
	}
	if desired.IamInstanceProfile != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{Name: &desired.IamInstanceProfile}
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	instanceID := aws.ToString(resp.Instances[0].InstanceId)

	if err := ec2.NewInstanceRunningWaiter(p.ec2Client).Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, waitShort); err != nil {
		return nil, fmt.Errorf("failed to wait for instance %s: %w", instanceID, err)
	}

	p.log.Info("launched instance", "name", req.Name, "id", instanceID, "image", imageID)
	return &InstanceState{
		ID:        instanceID,
		ImageID:   imageID,
		PrivateIP: aws.ToString(resp.Instances[0].PrivateIpAddress),
	}, nil
}

func (p *Provider) deleteInstance(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[InstanceState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{prior.ID}}); err != nil {
		return fmt.Errorf("failed to terminate instance: %w", err)
	}
	// security groups and subnets stay in use until termination completes
	if err := ec2.NewInstanceTerminatedWaiter(p.ec2Client).Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{prior.ID},
	}, waitShort); err != nil {
		return fmt.Errorf("failed to wait for instance termination: %w", err)
	}
	return nil
}
