package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/picklr-io/appstack/internal/provider"
)

type GenerateSecretString struct {
	SecretStringTemplate string `json:"secretStringTemplate"`
	GenerateStringKey    string `json:"generateStringKey"`
	ExcludeCharacters    string `json:"excludeCharacters"`
	PasswordLength       int64  `json:"passwordLength"`
}

type SecretConfig struct {
	Description          string                `json:"description"`
	GenerateSecretString *GenerateSecretString `json:"generateSecretString"`
	Tags                 map[string]string     `json:"tags"`
}

// SecretState holds identifiers only; secret material never reaches state.
type SecretState struct {
	ID   string `json:"id"`
	ARN  string `json:"arn"`
	Name string `json:"name"`
}

type SecretTargetAttachmentConfig struct {
	SecretID   string `json:"secretId"`
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Engine     string `json:"engine"`
	Host       string `json:"host"`
	Port       any    `json:"port"`
	DBName     string `json:"dbname"`
}

type SecretTargetAttachmentState struct {
	ID       string `json:"id"`
	SecretID string `json:"secretId"`
	TargetID string `json:"targetId"`
}

// generatedSecret renders the template with a fresh random value under the
// generated key.
func (p *Provider) generatedSecret(ctx context.Context, gen *GenerateSecretString) (string, error) {
	fields := map[string]any{}
	if gen.SecretStringTemplate != "" {
		if err := json.Unmarshal([]byte(gen.SecretStringTemplate), &fields); err != nil {
			return "", fmt.Errorf("secret template is not a JSON object: %w", err)
		}
	}
	input := &secretsmanager.GetRandomPasswordInput{}
	if gen.ExcludeCharacters != "" {
		input.ExcludeCharacters = aws.String(gen.ExcludeCharacters)
	}
	if gen.PasswordLength > 0 {
		input.PasswordLength = aws.Int64(gen.PasswordLength)
	}
	out, err := p.secretsmanagerClient.GetRandomPassword(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to generate secret value: %w", err)
	}
	fields[gen.GenerateStringKey] = aws.ToString(out.RandomPassword)

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *Provider) applySecret(ctx context.Context, req *provider.ApplyRequest) (*SecretState, error) {
	desired, err := decodeDesired[SecretConfig](req)
	if err != nil {
		return nil, err
	}

	input := &secretsmanager.CreateSecretInput{
		Name:        aws.String(req.Name),
		Description: &desired.Description,
	}
	if desired.GenerateSecretString != nil {
		value, err := p.generatedSecret(ctx, desired.GenerateSecretString)
		if err != nil {
			return nil, err
		}
		input.SecretString = aws.String(value)
	}
	keys := make([]string, 0, len(desired.Tags))
	for k := range desired.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(desired.Tags[k])})
	}

	resp, err := p.secretsmanagerClient.CreateSecret(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret: %w", err)
	}
	return &SecretState{
		ID:   aws.ToString(resp.ARN),
		ARN:  aws.ToString(resp.ARN),
		Name: aws.ToString(resp.Name),
	}, nil
}

func (p *Provider) deleteSecret(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[SecretState](req)
	if err != nil || prior.ARN == "" {
		return err
	}
	if _, err := p.secretsmanagerClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   &prior.ARN,
		ForceDeleteWithoutRecovery: aws.Bool(true),
	}); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// applySecretTargetAttachment merges the connection details of the target
// into the secret, keeping the generated credentials.
func (p *Provider) applySecretTargetAttachment(ctx context.Context, req *provider.ApplyRequest) (*SecretTargetAttachmentState, error) {
	desired, err := decodeDesired[SecretTargetAttachmentConfig](req)
	if err != nil {
		return nil, err
	}

	current, err := p.secretsmanagerClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &desired.SecretID})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	fields := map[string]any{}
	if s := aws.ToString(current.SecretString); s != "" {
		if err := json.Unmarshal([]byte(s), &fields); err != nil {
			return nil, fmt.Errorf("secret is not a JSON object: %w", err)
		}
	}
	fields["engine"] = desired.Engine
	fields["host"] = desired.Host
	fields["port"] = desired.Port
	fields["dbname"] = desired.DBName
	fields["dbInstanceIdentifier"] = desired.TargetID

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	if _, err := p.secretsmanagerClient.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     &desired.SecretID,
		SecretString: aws.String(string(raw)),
	}); err != nil {
		return nil, fmt.Errorf("failed to attach %s to secret: %w", desired.TargetID, err)
	}

	return &SecretTargetAttachmentState{
		ID:       desired.SecretID,
		SecretID: desired.SecretID,
		TargetID: desired.TargetID,
	}, nil
}
