package construct

import (
	"fmt"
	"strconv"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeDBSubnetGroup = "aws:RDS.DBSubnetGroup"
	typeDBInstance    = "aws:RDS.Instance"
)

// Postgres defaults.
const (
	DefaultDatabaseName = "app"
	DefaultUsername     = "postgres"
	PostgresVersion     = "15.2"
	PostgresPort        = 5432
	DefaultDBClass      = "db.t4g.medium"
	DefaultStorageGiB   = 20
)

// slowApplyTimeout bounds resources whose create or delete waits on a long
// control-plane operation. It exceeds the engine default.
const slowApplyTimeout = "60m"

// Keys of the generated credential secret.
const (
	SecretKeyUsername = "username"
	SecretKeyPassword = "password"
)

type DataStoreProps struct {
	Network            *Network
	MultiAZ            bool
	PubliclyAccessible bool
	DatabaseName       string
	Username           string
}

// DataStore is a managed Postgres instance with generated credentials.
type DataStore struct {
	stack        *Stack
	id           string
	port         int
	databaseName string

	Instance      Ref
	SecurityGroup Ref
	SubnetGroup   Ref
	Subnets       SubnetSet

	secret     Ref
	attachment Ref
}

// Endpoint is where clients reach the database. Host resolves at apply time.
type Endpoint struct {
	Host string
	Port int
}

func NewDataStore(s *Stack, id string, props DataStoreProps) (*DataStore, error) {
	if props.Network == nil {
		return nil, fmt.Errorf("datastore %s: %w", id, ErrMissingNetwork)
	}
	if props.DatabaseName == "" {
		props.DatabaseName = DefaultDatabaseName
	}
	if props.Username == "" {
		props.Username = DefaultUsername
	}

	kind := Isolated
	if props.PubliclyAccessible {
		kind = Public
	}
	subnets, err := props.Network.SelectSubnets(SubnetSelection{Kind: kind, OnePerAZ: true})
	if err != nil {
		return nil, fmt.Errorf("datastore %s: %w", id, err)
	}

	d := &DataStore{stack: s, id: id, port: PostgresPort, databaseName: props.DatabaseName, Subnets: subnets}

	d.SecurityGroup, err = addSecurityGroup(s, resourceName(id, "sg"), props.Network.Vpc(),
		fmt.Sprintf("Database %s", id))
	if err != nil {
		return nil, err
	}

	d.SubnetGroup, err = s.Add(&ir.Resource{
		Type: typeDBSubnetGroup,
		Name: resourceName(id, "subnets"),
		Properties: map[string]any{
			"description": fmt.Sprintf("Subnets for database %s", id),
			"subnetIds":   subnets.IDs(),
		},
	})
	if err != nil {
		return nil, err
	}

	// The generated password is never regenerated behind a live instance.
	d.secret, err = s.Add(&ir.Resource{
		Type: typeSecret,
		Name: resourceName(id, "credentials"),
		Lifecycle: &ir.Lifecycle{
			PreventDestroy: true,
			IgnoreChanges:  []string{"generateSecretString"},
		},
		Properties: map[string]any{
			"description": fmt.Sprintf("Master credentials for database %s", id),
			"generateSecretString": map[string]any{
				"secretStringTemplate": fmt.Sprintf(`{"%s":%s}`, SecretKeyUsername, strconv.Quote(props.Username)),
				"generateStringKey":    SecretKeyPassword,
				"excludeCharacters":    `/@" `,
				"passwordLength":       30,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	d.Instance, err = s.Add(&ir.Resource{
		Type:    typeDBInstance,
		Name:    id,
		Timeout: slowApplyTimeout,
		Properties: map[string]any{
			"engine":                  "postgres",
			"engineVersion":           PostgresVersion,
			"instanceClass":           DefaultDBClass,
			"allocatedStorage":        DefaultStorageGiB,
			"dbName":                  props.DatabaseName,
			"port":                    PostgresPort,
			"multiAz":                 props.MultiAZ,
			"publiclyAccessible":      props.PubliclyAccessible,
			"dbSubnetGroupName":       d.SubnetGroup.Attr("name"),
			"vpcSecurityGroupIds":     []any{d.SecurityGroup.Attr("id")},
			"masterUsername":          props.Username,
			"masterPasswordSecretArn": d.secret.Attr("arn"),
			"masterPasswordSecretKey": SecretKeyPassword,
		},
	})
	if err != nil {
		return nil, err
	}

	d.attachment, err = s.Add(&ir.Resource{
		Type: typeSecretTargetAttachment,
		Name: id,
		Properties: map[string]any{
			"secretId":   d.secret.Attr("arn"),
			"targetType": "AWS::RDS::DBInstance",
			"targetId":   d.Instance.Attr("id"),
			"engine":     "postgres",
			"host":       d.Instance.Attr("address"),
			"port":       d.Instance.Attr("port"),
			"dbname":     props.DatabaseName,
		},
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Secret is the credential secret, enriched with connection details once
// the instance exists.
func (d *DataStore) Secret() SecretRef {
	return SecretRef{ref: d.secret}
}

// SecretAttachment is the resource that writes host and port into Secret.
func (d *DataStore) SecretAttachment() Ref {
	return d.attachment
}

func (d *DataStore) Port() int {
	return d.port
}

func (d *DataStore) DatabaseName() string {
	return d.databaseName
}

func (d *DataStore) Endpoint() Endpoint {
	return Endpoint{Host: d.Instance.Interp("address"), Port: d.port}
}

// AllowFrom lets src reach the database on port, which must be the
// listening port. Granting the same source twice yields one rule.
func (d *DataStore) AllowFrom(src Connectable, port int) (AccessRule, error) {
	if port != d.port {
		return AccessRule{}, fmt.Errorf("datastore %s: %w: %d != %d", d.id, ErrPortMismatch, port, d.port)
	}
	return allowIngress(d.stack, d.SecurityGroup, src, port)
}

func (d *DataStore) AllowDefaultPortFrom(src Connectable) (AccessRule, error) {
	return d.AllowFrom(src, d.port)
}
