package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/picklr-io/appstack/internal/provider"
)

type RoleConfig struct {
	AssumeRolePolicyDocument json.RawMessage   `json:"assumeRolePolicyDocument"`
	ManagedPolicyArns        []string          `json:"managedPolicyArns"`
	Tags                     map[string]string `json:"tags"`
}

type RoleState struct {
	Name              string   `json:"name"`
	ARN               string   `json:"arn"`
	ManagedPolicyArns []string `json:"managedPolicyArns"`
}

type RolePolicyConfig struct {
	RoleName       string          `json:"roleName"`
	PolicyName     string          `json:"policyName"`
	PolicyDocument json.RawMessage `json:"policyDocument"`
}

type RolePolicyState struct {
	RoleName   string `json:"roleName"`
	PolicyName string `json:"policyName"`
}

type InstanceProfileConfig struct {
	Roles []string          `json:"roles"`
	Tags  map[string]string `json:"tags"`
}

type InstanceProfileState struct {
	Name  string   `json:"name"`
	ARN   string   `json:"arn"`
	Roles []string `json:"roles"`
}

func iamTags(tags map[string]string) []types.Tag {
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

func (p *Provider) applyRole(ctx context.Context, req *provider.ApplyRequest) (*RoleState, error) {
	desired, err := decodeDesired[RoleConfig](req)
	if err != nil {
		return nil, err
	}

	// IAM is eventually consistent; consumers retry on assume-role errors.
	resp, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(req.Name),
		AssumeRolePolicyDocument: aws.String(string(desired.AssumeRolePolicyDocument)),
		Tags:                     iamTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	for _, arn := range desired.ManagedPolicyArns {
		if _, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  resp.Role.RoleName,
			PolicyArn: aws.String(arn),
		}); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", arn, err)
		}
	}

	return &RoleState{
		Name:              *resp.Role.RoleName,
		ARN:               *resp.Role.Arn,
		ManagedPolicyArns: desired.ManagedPolicyArns,
	}, nil
}

func (p *Provider) deleteRole(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[RoleState](req)
	if err != nil || prior.Name == "" {
		return err
	}
	for _, arn := range prior.ManagedPolicyArns {
		if _, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  &prior.Name,
			PolicyArn: aws.String(arn),
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to detach %s: %w", arn, err)
		}
	}
	if _, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &prior.Name}); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// applyRolePolicy creates or replaces an inline policy. PutRolePolicy
// overwrites, so updates take the same path.
func (p *Provider) applyRolePolicy(ctx context.Context, req *provider.ApplyRequest) (*RolePolicyState, error) {
	desired, err := decodeDesired[RolePolicyConfig](req)
	if err != nil {
		return nil, err
	}
	if _, err := p.iamClient.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       &desired.RoleName,
		PolicyName:     &desired.PolicyName,
		PolicyDocument: aws.String(string(desired.PolicyDocument)),
	}); err != nil {
		return nil, fmt.Errorf("failed to put role policy: %w", err)
	}
	return &RolePolicyState{RoleName: desired.RoleName, PolicyName: desired.PolicyName}, nil
}

func (p *Provider) deleteRolePolicy(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[RolePolicyState](req)
	if err != nil || prior.PolicyName == "" {
		return err
	}
	if _, err := p.iamClient.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   &prior.RoleName,
		PolicyName: &prior.PolicyName,
	}); err != nil {
		return fmt.Errorf("failed to delete role policy: %w", err)
	}
	return nil
}

func (p *Provider) applyInstanceProfile(ctx context.Context, req *provider.ApplyRequest) (*InstanceProfileState, error) {
	desired, err := decodeDesired[InstanceProfileConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.iamClient.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(req.Name),
		Tags:                iamTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instance profile: %w", err)
	}

	for _, role := range desired.Roles {
		if _, err := p.iamClient.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: resp.InstanceProfile.InstanceProfileName,
			RoleName:            aws.String(role),
		}); err != nil {
			return nil, fmt.Errorf("failed to add role %s to instance profile: %w", role, err)
		}
	}

	return &InstanceProfileState{
		Name:  *resp.InstanceProfile.InstanceProfileName,
		ARN:   *resp.InstanceProfile.Arn,
		Roles: desired.Roles,
	}, nil
}

func (p *Provider) deleteInstanceProfile(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[InstanceProfileState](req)
	if err != nil || prior.Name == "" {
		return err
	}
	for _, role := range prior.Roles {
		if _, err := p.iamClient.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: &prior.Name,
			RoleName:            aws.String(role),
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to remove role %s: %w", role, err)
		}
	}
	if _, err := p.iamClient.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{InstanceProfileName: &prior.Name}); err != nil {
		return fmt.Errorf("failed to delete instance profile: %w", err)
	}
	return nil
}
