package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/picklr-io/appstack/internal/provider"
)

type DBSubnetGroupConfig struct {
	Description string            `json:"description"`
	SubnetIDs   []string          `json:"subnetIds"`
	Tags        map[string]string `json:"tags"`
}

type DBSubnetGroupState struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

type DBInstanceConfig struct {
	Engine                  string            `json:"engine"`
	EngineVersion           string            `json:"engineVersion"`
	InstanceClass           string            `json:"instanceClass"`
	AllocatedStorage        int32             `json:"allocatedStorage"`
	DBName                  string            `json:"dbName"`
	Port                    int32             `json:"port"`
	MultiAZ                 bool              `json:"multiAz"`
	PubliclyAccessible      bool              `json:"publiclyAccessible"`
	DBSubnetGroupName       string            `json:"dbSubnetGroupName"`
	VpcSecurityGroupIDs     []string          `json:"vpcSecurityGroupIds"`
	MasterUsername          string            `json:"masterUsername"`
	MasterPasswordSecretArn string            `json:"masterPasswordSecretArn"`
	MasterPasswordSecretKey string            `json:"masterPasswordSecretKey"`
	Tags                    map[string]string `json:"tags"`
}

type DBInstanceState struct {
	ID      string `json:"id"`
	ARN     string `json:"arn"`
	Address string `json:"address"`
	Port    int32  `json:"port"`
}

func rdsTags(tags map[string]string) []types.Tag {
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

func (p *Provider) applyDBSubnetGroup(ctx context.Context, req *provider.ApplyRequest) (*DBSubnetGroupState, error) {
	desired, err := decodeDesired[DBSubnetGroupConfig](req)
	if err != nil {
		return nil, err
	}
	resp, err := p.rdsClient.CreateDBSubnetGroup(ctx, &rds.CreateDBSubnetGroupInput{
		DBSubnetGroupName:        aws.String(req.Name),
		DBSubnetGroupDescription: &desired.Description,
		SubnetIds:                desired.SubnetIDs,
		Tags:                     rdsTags(desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DB subnet group: %w", err)
	}
	return &DBSubnetGroupState{
		Name: *resp.DBSubnetGroup.DBSubnetGroupName,
		ARN:  aws.ToString(resp.DBSubnetGroup.DBSubnetGroupArn),
	}, nil
}

func (p *Provider) deleteDBSubnetGroup(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[DBSubnetGroupState](req)
	if err != nil || prior.Name == "" {
		return err
	}
	if _, err := p.rdsClient.DeleteDBSubnetGroup(ctx, &rds.DeleteDBSubnetGroupInput{DBSubnetGroupName: &prior.Name}); err != nil {
		return fmt.Errorf("failed to delete DB subnet group: %w", err)
	}
	return nil
}

// masterPassword reads one key of the generated credential secret. The
// value goes straight to RDS and is never written to state.
func (p *Provider) masterPassword(ctx context.Context, secretArn, key string) (string, error) {
	out, err := p.secretsmanagerClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretArn})
	if err != nil {
		return "", fmt.Errorf("failed to read master credentials: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &fields); err != nil {
		return "", fmt.Errorf("master credentials are not a JSON object: %w", err)
	}
	password, ok := fields[key].(string)
	if !ok || password == "" {
		return "", fmt.Errorf("master credentials have no %q key", key)
	}
	return password, nil
}

func (p *Provider) applyDBInstance(ctx context.Context, req *provider.ApplyRequest) (*DBInstanceState, error) {
	desired, err := decodeDesired[DBInstanceConfig](req)
	if err != nil {
		return nil, err
	}
	password, err := p.masterPassword(ctx, desired.MasterPasswordSecretArn, desired.MasterPasswordSecretKey)
	if err != nil {
		return nil, err
	}

	input := &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: aws.String(req.Name),
		Engine:               &desired.Engine,
		DBInstanceClass:      &desired.InstanceClass,
		AllocatedStorage:     aws.Int32(desired.AllocatedStorage),
		DBName:               &desired.DBName,
		Port:                 aws.Int32(desired.Port),
		MultiAZ:              aws.Bool(desired.MultiAZ),
		PubliclyAccessible:   aws.Bool(desired.PubliclyAccessible),
		DBSubnetGroupName:    &desired.DBSubnetGroupName,
		VpcSecurityGroupIds:  desired.VpcSecurityGroupIDs,
		MasterUsername:       &desired.MasterUsername,
		MasterUserPassword:   aws.String(password),
		Tags:                 rdsTags(desired.Tags),
	}
	if desired.EngineVersion != "" {
		input.EngineVersion = &desired.EngineVersion
	}

	resp, err := p.rdsClient.CreateDBInstance(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create db instance: %w", err)
	}
	identifier := resp.DBInstance.DBInstanceIdentifier

	p.log.Info("waiting for db instance", "name", req.Name)
	if err := rds.NewDBInstanceAvailableWaiter(p.rdsClient).Wait(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: identifier,
	}, waitLong); err != nil {
		return nil, fmt.Errorf("failed to wait for db instance available: %w", err)
	}

	// the endpoint is only known once the instance is available
	described, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: identifier})
	if err != nil {
		return nil, fmt.Errorf("failed to describe db instance: %w", err)
	}
	if len(described.DBInstances) == 0 || described.DBInstances[0].Endpoint == nil {
		return nil, fmt.Errorf("db instance %s has no endpoint", aws.ToString(identifier))
	}
	inst := described.DBInstances[0]

	return &DBInstanceState{
		ID:      *identifier,
		ARN:     aws.ToString(inst.DBInstanceArn),
		Address: aws.ToString(inst.Endpoint.Address),
		Port:    aws.ToInt32(inst.Endpoint.Port),
	}, nil
}

func (p *Provider) deleteDBInstance(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[DBInstanceState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.rdsClient.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: &prior.ID,
		SkipFinalSnapshot:    aws.Bool(true),
	}); err != nil {
		return fmt.Errorf("failed to delete DB instance: %w", err)
	}
	// the subnet group and security group stay in use until the instance is gone
	if err := rds.NewDBInstanceDeletedWaiter(p.rdsClient).Wait(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: &prior.ID,
	}, waitLong); err != nil {
		return fmt.Errorf("failed to wait for DB instance deletion: %w", err)
	}
	return nil
}
