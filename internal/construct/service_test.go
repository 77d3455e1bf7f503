package construct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceService_InNetwork(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	db, err := NewDataStore(s, "db", DataStoreProps{Network: n})
	require.NoError(t, err)

	api, err := NewSourceService(s, "api", SourceServiceProps{
		Network:       n,
		Subnets:       &db.Subnets,
		Repository:    "https://github.com/example/api",
		Branch:        "main",
		BuildCommand:  "pip install -r requirements.txt",
		StartCommand:  "python server.py",
		Port:          8000,
		ConnectionArn: "arn:aws:apprunner:us-east-1:123456789012:connection/gh/abc",
	})
	require.NoError(t, err)

	require.NoError(t, api.AddEnvironment("dbhost", db.Endpoint().Host))
	require.NoError(t, api.AddSecret("dbpass", db.Secret().Field(SecretKeyPassword)))
	require.NoError(t, api.AddSecret("dbuser", db.Secret().Field(SecretKeyUsername)))
	_, err = db.AllowDefaultPortFrom(api)
	require.NoError(t, err)

	cfg := synth(t, s)

	conn := find(t, cfg, api.Connector)
	assert.Equal(t, db.Subnets.IDs(), conn.Properties["subnets"])
	group, ok := api.SecurityGroup()
	require.True(t, ok)
	sg := find(t, cfg, group)
	assert.Equal(t, "SecurityGroup associated with the App Runner Service", sg.Properties["description"])

	svc := find(t, cfg, api.Service)
	src := svc.Properties["sourceConfiguration"].(map[string]any)
	assert.Equal(t, true, src["autoDeploymentsEnabled"])
	assert.Equal(t, "main", src["branch"])
	code := src["codeConfigurationValues"].(map[string]any)
	assert.Equal(t, "8000", code["port"])
	assert.Equal(t, DefaultSourceRuntime, code["runtime"])
	assert.Equal(t, map[string]any{"dbhost": db.Endpoint().Host}, code["runtimeEnvironmentVariables"])
	assert.Equal(t, map[string]any{
		"dbpass": db.Secret().Field(SecretKeyPassword).ValueFrom(),
		"dbuser": db.Secret().Field(SecretKeyUsername).ValueFrom(),
	}, code["runtimeEnvironmentSecrets"])

	netCfg := svc.Properties["networkConfiguration"].(map[string]any)
	egress := netCfg["egressConfiguration"].(map[string]any)
	assert.Equal(t, "VPC", egress["egressType"])

	// one read grant however many keys of the secret are injected
	assert.Len(t, ofType(cfg, typeRolePolicy), 1)
	assert.Len(t, ofType(cfg, typeSecurityGroupIngress), 1)
}

func TestSourceService_WithoutNetwork(t *testing.T) {
	s := testStack(t)
	api, err := NewSourceService(s, "api", SourceServiceProps{
		Repository:    "https://github.com/example/api",
		Branch:        "main",
		Port:          8080,
		ConnectionArn: "arn:aws:apprunner:us-east-1:123456789012:connection/gh/abc",
	})
	require.NoError(t, err)

	_, ok := api.SecurityGroup()
	assert.False(t, ok)
	assert.True(t, api.Connector.IsZero())

	cfg := synth(t, s)
	svc := find(t, cfg, api.Service)
	egress := svc.Properties["networkConfiguration"].(map[string]any)["egressConfiguration"].(map[string]any)
	assert.Equal(t, "DEFAULT", egress["egressType"])
}

func TestSourceService_RequiresConnection(t *testing.T) {
	_, err := NewSourceService(testStack(t), "api", SourceServiceProps{
		Repository: "https://github.com/example/api",
		Branch:     "main",
		Port:       8000,
	})
	assert.ErrorIs(t, err, ErrMissingConnection)
}

func TestContainerService_Resources(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	db, err := NewDataStore(s, "db", DataStoreProps{Network: n})
	require.NoError(t, err)

	svc, err := NewContainerService(s, "api", ContainerServiceProps{
		Network: n,
		Image:   "public.ecr.aws/example/api:latest",
	})
	require.NoError(t, err)
	require.NoError(t, svc.AddEnvironment("dbname", "app"))
	require.NoError(t, svc.AddSecret("dbpass", db.Secret().Field(SecretKeyPassword)))

	cfg := synth(t, s)
	assert.Len(t, ofType(cfg, typeCluster), 1)
	assert.Len(t, ofType(cfg, typeLoadBalancer), 1)
	assert.Len(t, ofType(cfg, typeTargetGroup), 1)
	assert.Len(t, ofType(cfg, typeListener), 1)

	lbGroup := find(t, cfg, svc.lbGroup)
	ingress := lbGroup.Properties["ingress"].([]any)
	require.Len(t, ingress, 1)
	assert.Equal(t, listenerPort, ingress[0].(map[string]any)["fromPort"])
	assert.Equal(t, anyIPv4, ingress[0].(map[string]any)["cidrIp"])

	rules := ofType(cfg, typeSecurityGroupIngress)
	require.Len(t, rules, 1)
	assert.Equal(t, svc.lbGroup.Attr("id"), rules[0].Properties["sourceSecurityGroupId"])
	assert.Equal(t, DefaultContainerPort, rules[0].Properties["fromPort"])

	task := find(t, cfg, svc.TaskDefinition)
	assert.Equal(t, "256", task.Properties["cpu"])
	assert.Equal(t, "512", task.Properties["memory"])
	container := task.Properties["containers"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{map[string]any{"name": "dbname", "value": "app"}}, container["environment"])
	assert.Equal(t, []any{map[string]any{
		"name":      "dbpass",
		"valueFrom": db.Secret().Field(SecretKeyPassword).ValueFrom(),
	}}, container["secrets"])

	service := find(t, cfg, svc.Service)
	assert.Equal(t, "FARGATE", service.Properties["launchType"])
	assert.Equal(t, true, service.Properties["enableExecuteCommand"])
	assert.Equal(t, []string{svc.Listener.Addr()}, service.DependsOn)
	assert.Equal(t, "http://${ptr://aws:ELB.LoadBalancer/api/dnsName}", svc.URL())

	var _ RequestService = svc
}

func TestContainerService_Errors(t *testing.T) {
	s := testStack(t)
	_, err := NewContainerService(s, "api", ContainerServiceProps{Image: "img"})
	assert.ErrorIs(t, err, ErrMissingNetwork)

	_, err = NewContainerService(s, "api", ContainerServiceProps{Network: testNetwork(t, s)})
	assert.ErrorIs(t, err, ErrMissingImage)
}

func TestRequestServices_AreConnectablePrincipals(t *testing.T) {
	var _ RequestService = (*SourceService)(nil)
	var _ RequestService = (*ContainerService)(nil)
	var _ Connectable = (*Bastion)(nil)
	var _ Principal = (*Worker)(nil)
}

func TestRequestService_PlainAndSecretConflict(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	db, err := NewDataStore(s, "db", DataStoreProps{Network: n})
	require.NoError(t, err)
	src, err := NewSourceService(s, "api", SourceServiceProps{
		Repository:    "https://github.com/example/api",
		Branch:        "main",
		Port:          8000,
		ConnectionArn: "arn:aws:apprunner:us-east-1:123456789012:connection/gh/abc",
	})
	require.NoError(t, err)
	ctr, err := NewContainerService(s, "web", ContainerServiceProps{Network: n, Image: "img"})
	require.NoError(t, err)

	for _, svc := range []RequestService{src, ctr} {
		require.NoError(t, svc.AddSecret("dbuser", db.Secret().Field(SecretKeyUsername)))
		assert.ErrorIs(t, svc.AddEnvironment("dbuser", "postgres"), ErrEnvConflict)

		require.NoError(t, svc.AddEnvironment("dbname", "app"))
		assert.ErrorIs(t, svc.AddSecret("dbname", db.Secret().Field(SecretKeyPassword)), ErrEnvConflict)
	}

	cfg := synth(t, s)
	code := find(t, cfg, src.Service).Properties["sourceConfiguration"].(map[string]any)["codeConfigurationValues"].(map[string]any)
	assert.NotContains(t, code["runtimeEnvironmentVariables"], "dbuser")
	assert.NotContains(t, code["runtimeEnvironmentSecrets"], "dbname")
}

func TestRequestService_SlowOperationsAndRevisions(t *testing.T) {
	s := testStack(t)
	n := testNetwork(t, s)
	src, err := NewSourceService(s, "api", SourceServiceProps{
		Repository:    "https://github.com/example/api",
		Branch:        "main",
		Port:          8000,
		ConnectionArn: "arn:aws:apprunner:us-east-1:123456789012:connection/gh/abc",
	})
	require.NoError(t, err)
	ctr, err := NewContainerService(s, "web", ContainerServiceProps{Network: n, Image: "img"})
	require.NoError(t, err)

	cfg := synth(t, s)
	assert.Equal(t, slowApplyTimeout, find(t, cfg, src.Service).Timeout)
	assert.Equal(t, slowApplyTimeout, find(t, cfg, ctr.Service).Timeout)

	task := find(t, cfg, ctr.TaskDefinition)
	require.NotNil(t, task.Lifecycle)
	assert.True(t, task.Lifecycle.CreateBeforeDestroy)
}
