package aws

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/appstack/internal/provider"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "InvalidVpcID.NotFound"}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NoSuchEntity"})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(fmt.Errorf("plain")))
	assert.False(t, isNotFound(nil))
}

func TestIsRoleNotReady(t *testing.T) {
	assert.True(t, isRoleNotReady(&smithy.GenericAPIError{
		Code:    "InvalidParameterValueException",
		Message: "The role defined for the function cannot be assumed by Lambda.",
	}))
	assert.False(t, isRoleNotReady(&smithy.GenericAPIError{
		Code:    "InvalidParameterValueException",
		Message: "Unsupported runtime",
	}))
}

func TestPlan(t *testing.T) {
	p := New()
	changed := func(typ string) provider.Action {
		resp, err := p.Plan(context.Background(), &provider.PlanRequest{
			Type:              typ,
			Name:              "x",
			DesiredConfigJSON: []byte(`{}`),
			DesiredHash:       "new",
			PriorInputsHash:   "old",
			PriorStateJSON:    []byte(`{}`),
		})
		require.NoError(t, err)
		return resp.Action
	}

	assert.Equal(t, provider.Update, changed(typeFunction))
	assert.Equal(t, provider.Update, changed(typeECSService))
	assert.Equal(t, provider.Update, changed(typeAppRunnerService))
	assert.Equal(t, provider.Update, changed(typeRolePolicy))
	assert.Equal(t, provider.Replace, changed(typeDBInstance))
	assert.Equal(t, provider.Replace, changed(typeTaskDefinition))

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{Type: typeVpc, Name: "x", DesiredConfigJSON: []byte(`{}`), DesiredHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, provider.Create, resp.Action)
}

func TestTypesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, typ := range Types() {
		assert.False(t, seen[typ], "duplicate type %s", typ)
		seen[typ] = true
	}
	assert.Len(t, seen, 25)
}

func TestTagSpec(t *testing.T) {
	assert.Nil(t, tagSpec(types.ResourceTypeVpc, nil))

	spec := tagSpec(types.ResourceTypeVpc, map[string]string{"b": "2", "a": "1"})
	require.Len(t, spec, 1)
	assert.Equal(t, types.ResourceTypeVpc, spec[0].ResourceType)
	require.Len(t, spec[0].Tags, 2)
	assert.Equal(t, "a", *spec[0].Tags[0].Key)
	assert.Equal(t, "2", *spec[0].Tags[1].Value)
}

func TestPackageCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.py"), []byte("def main(event, ctx): pass\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "util.py"), []byte("X = 1\n"), 0o644))

	archive, err := packageCode(dir)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = string(body)
	}
	assert.Equal(t, map[string]string{
		"index.py":    "def main(event, ctx): pass\n",
		"lib/util.py": "X = 1\n",
	}, files)
}

func TestPackageCodeArchiveAndErrors(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "code.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("PK"), 0o644))
	got, err := packageCode(zipPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), got)

	plain := filepath.Join(dir, "main.py")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))
	_, err = packageCode(plain)
	assert.Error(t, err)

	_, err = packageCode(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestServiceConfigNetwork(t *testing.T) {
	cfg := ServiceConfig{NetworkConfiguration: ServiceNetworkConfig{
		SubnetIDs:        []string{"subnet-1"},
		SecurityGroupIDs: []string{"sg-1"},
		AssignPublicIP:   true,
	}}
	net := cfg.network()
	assert.Equal(t, []string{"subnet-1"}, net.AwsvpcConfiguration.Subnets)
	assert.EqualValues(t, "ENABLED", net.AwsvpcConfiguration.AssignPublicIp)
}

func TestAppRunnerEgress(t *testing.T) {
	var cfg AppRunnerServiceConfig
	cfg.NetworkConfiguration.EgressConfiguration = EgressConfiguration{EgressType: "DEFAULT"}
	assert.Nil(t, cfg.network().EgressConfiguration.VpcConnectorArn)

	cfg.NetworkConfiguration.EgressConfiguration = EgressConfiguration{EgressType: "VPC", VpcConnectorArn: "arn:connector"}
	assert.Equal(t, "arn:connector", *cfg.network().EgressConfiguration.VpcConnectorArn)
}

func TestDecodeVpcAndFunctionConfig(t *testing.T) {
	vpc, err := decodeDesired[VpcConfig](&provider.ApplyRequest{
		Name:              "network-v1",
		DesiredConfigJSON: []byte(`{"cidrBlock":"10.0.0.0/16","enableDnsSupport":true,"enableDnsHostnames":true,"tags":{"stack":"s"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/16", vpc.CidrBlock)
	assert.True(t, vpc.EnableDnsSupport)
	assert.True(t, vpc.EnableDnsHostnames)
	assert.Equal(t, "s", vpc.Tags["stack"])

	fn, err := decodeDesired[FunctionConfig](&provider.ApplyRequest{
		Name:              "lambda1-v1",
		DesiredConfigJSON: []byte(`{"runtime":"python3.12","vpcConfig":{"subnetIds":["subnet-1"],"securityGroupIds":["sg-1"]}}`),
	})
	require.NoError(t, err)
	vc := fn.vpc()
	require.NotNil(t, vc)
	assert.Equal(t, []string{"subnet-1"}, vc.SubnetIds)
	assert.Equal(t, []string{"sg-1"}, vc.SecurityGroupIds)

	fn.VpcConfig = nil
	assert.Nil(t, fn.vpc())
}

func TestServiceConfigExecuteCommand(t *testing.T) {
	cfg, err := decodeDesired[ServiceConfig](&provider.ApplyRequest{
		Name:              "api-v1",
		DesiredConfigJSON: []byte(`{"cluster":"c","enableExecuteCommand":true,"launchType":"FARGATE"}`),
	})
	require.NoError(t, err)
	assert.True(t, cfg.EnableExecuteCommand)
	assert.Equal(t, "FARGATE", cfg.LaunchType)
}
