package aws

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/appstack/internal/provider"
)

type FunctionVpcConfig struct {
	SubnetIDs        []string `json:"subnetIds"`
	SecurityGroupIDs []string `json:"securityGroupIds"`
}

type FunctionConfig struct {
	Runtime     string             `json:"runtime"`
	Handler     string             `json:"handler"`
	CodePath    string             `json:"codePath"`
	Role        string             `json:"role"`
	Timeout     int32              `json:"timeout"`
	MemorySize  int32              `json:"memorySize"`
	Environment map[string]string  `json:"environment"`
	VpcConfig   *FunctionVpcConfig `json:"vpcConfig"`
	Tags        map[string]string  `json:"tags"`
}

type FunctionState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

type EventSourceMappingConfig struct {
	FunctionName   string `json:"functionName"`
	EventSourceArn string `json:"eventSourceArn"`
	BatchSize      int32  `json:"batchSize"`
}

type EventSourceMappingState struct {
	ID           string `json:"id"`
	FunctionName string `json:"functionName"`
}

// rolePropagation bounds how long CreateFunction is retried while a freshly
// created execution role is not yet assumable.
const (
	rolePropagation = 2 * time.Minute
	roleRetryEvery  = 5 * time.Second
)

// packageCode returns a deployment archive for path. An existing .zip file
// is used as is; a directory is zipped with paths relative to its root.
func packageCode(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read code path: %w", err)
	}
	if !info.IsDir() {
		if strings.HasSuffix(path, ".zip") {
			return os.ReadFile(path)
		}
		return nil, fmt.Errorf("code path %s must be a directory or a .zip archive", path)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err = filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(path, file)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to package %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *FunctionConfig) vpc() *types.VpcConfig {
	if c.VpcConfig == nil {
		return nil
	}
	return &types.VpcConfig{
		SubnetIds:        c.VpcConfig.SubnetIDs,
		SecurityGroupIds: c.VpcConfig.SecurityGroupIDs,
	}
}

func isRoleNotReady(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "InvalidParameterValueException" &&
		strings.Contains(apiErr.ErrorMessage(), "role")
}

func (p *Provider) applyFunction(ctx context.Context, req *provider.ApplyRequest) (*FunctionState, error) {
	desired, err := decodeDesired[FunctionConfig](req)
	if err != nil {
		return nil, err
	}
	code, err := packageCode(desired.CodePath)
	if err != nil {
		return nil, err
	}

	if prior, ok, err := decodePrior[FunctionState](req); err != nil {
		return nil, err
	} else if ok && prior.Name != "" {
		return p.updateFunction(ctx, prior, desired, code)
	}

	input := &lambda.CreateFunctionInput{
		FunctionName: aws.String(req.Name),
		Runtime:      types.Runtime(desired.Runtime),
		Handler:      &desired.Handler,
		Role:         &desired.Role,
		Code:         &types.FunctionCode{ZipFile: code},
		Timeout:      aws.Int32(desired.Timeout),
		MemorySize:   aws.Int32(desired.MemorySize),
		Environment:  &types.Environment{Variables: desired.Environment},
		VpcConfig:    desired.vpc(),
		Tags:         desired.Tags,
	}

	var resp *lambda.CreateFunctionOutput
	deadline := time.Now().Add(rolePropagation)
	for {
		resp, err = p.lambdaClient.CreateFunction(ctx, input)
		if err == nil || !isRoleNotReady(err) || time.Now().After(deadline) {
			break
		}
		p.log.Debug("execution role not assumable yet", "function", req.Name)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(roleRetryEvery):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create function: %w", err)
	}

	if err := lambda.NewFunctionActiveV2Waiter(p.lambdaClient).Wait(ctx, &lambda.GetFunctionInput{
		FunctionName: resp.FunctionName,
	}, waitShort); err != nil {
		return nil, fmt.Errorf("function %s did not become active: %w", req.Name, err)
	}

	return &FunctionState{
		ID:   aws.ToString(resp.FunctionName),
		Name: aws.ToString(resp.FunctionName),
		ARN:  aws.ToString(resp.FunctionArn),
	}, nil
}

func (p *Provider) updateFunction(ctx context.Context, prior FunctionState, desired FunctionConfig, code []byte) (*FunctionState, error) {
	if _, err := p.lambdaClient.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: &prior.Name,
		ZipFile:      code,
	}); err != nil {
		return nil, fmt.Errorf("failed to update function code: %w", err)
	}
	updated := lambda.NewFunctionUpdatedV2Waiter(p.lambdaClient)
	if err := updated.Wait(ctx, &lambda.GetFunctionInput{FunctionName: &prior.Name}, waitShort); err != nil {
		return nil, err
	}

	cfg := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: &prior.Name,
		Runtime:      types.Runtime(desired.Runtime),
		Handler:      &desired.Handler,
		Role:         &desired.Role,
		Timeout:      aws.Int32(desired.Timeout),
		MemorySize:   aws.Int32(desired.MemorySize),
		Environment:  &types.Environment{Variables: desired.Environment},
		VpcConfig:    desired.vpc(),
	}
	if _, err := p.lambdaClient.UpdateFunctionConfiguration(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to update function configuration: %w", err)
	}
	if err := updated.Wait(ctx, &lambda.GetFunctionInput{FunctionName: &prior.Name}, waitShort); err != nil {
		return nil, err
	}
	return &prior, nil
}

func (p *Provider) deleteFunction(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[FunctionState](req)
	if err != nil || prior.Name == "" {
		return err
	}
	if _, err := p.lambdaClient.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: &prior.Name}); err != nil {
		return fmt.Errorf("failed to delete function: %w", err)
	}
	return nil
}

func (p *Provider) applyEventSourceMapping(ctx context.Context, req *provider.ApplyRequest) (*EventSourceMappingState, error) {
	desired, err := decodeDesired[EventSourceMappingConfig](req)
	if err != nil {
		return nil, err
	}

	input := &lambda.CreateEventSourceMappingInput{
		FunctionName:   &desired.FunctionName,
		EventSourceArn: &desired.EventSourceArn,
		Enabled:        aws.Bool(true),
	}
	if desired.BatchSize > 0 {
		input.BatchSize = aws.Int32(desired.BatchSize)
	}
	resp, err := p.lambdaClient.CreateEventSourceMapping(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create event source mapping: %w", err)
	}
	return &EventSourceMappingState{
		ID:           aws.ToString(resp.UUID),
		FunctionName: desired.FunctionName,
	}, nil
}

func (p *Provider) deleteEventSourceMapping(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[EventSourceMappingState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.lambdaClient.DeleteEventSourceMapping(ctx, &lambda.DeleteEventSourceMappingInput{UUID: &prior.ID}); err != nil {
		return fmt.Errorf("failed to delete event source mapping: %w", err)
	}
	return nil
}
