package stack

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/picklr-io/appstack/internal/config"
	"github.com/picklr-io/appstack/internal/construct"
	"github.com/picklr-io/appstack/internal/logging"
)

var (
	ErrUnknownLayout           = errors.New("unknown layout")
	ErrMissingSourceConnection = errors.New("source connection is required for a managed-runtime api (set " + config.SourceConnectionEnv + ")")
)

// Layout is one of the reference deployments.
type Layout string

const (
	// APIJobServices is a database, two queues with workers and an API.
	APIJobServices Layout = "api-job-services"
	// DatabaseLambda is a database with one worker inside the network and
	// one outside it.
	DatabaseLambda Layout = "database-lambda"
)

// Output names.
const (
	OutputTunnelCommand = "databaseSSMCommand"
	OutputDatabaseHost  = "databaseHost"
	OutputDatabasePort  = "databasePort"
	OutputAPIURL        = "apiUrl"
)

func ParseLayout(key string) (Layout, error) {
	switch l := Layout(key); l {
	case APIJobServices, DatabaseLambda:
		return l, nil
	default:
		return "", fmt.Errorf("%w %q (want %s or %s)", ErrUnknownLayout, key, APIJobServices, DatabaseLambda)
	}
}

// Layouts lists every layout.
func Layouts() []Layout {
	return []Layout{APIJobServices, DatabaseLambda}
}

// Assemble builds the stack cfg describes. Every construct is created before
// any relationship between two of them is declared.
func Assemble(cfg config.Deployment) (*construct.Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	layout, err := ParseLayout(cfg.Layout)
	if err != nil {
		return nil, err
	}
	framework, err := ParseFramework(cfg.Framework)
	if err != nil {
		return nil, err
	}
	if layout == APIJobServices {
		switch cfg.API.Kind {
		case config.APIKindManaged:
			if cfg.SourceConnectionArn == "" {
				return nil, ErrMissingSourceConnection
			}
		case config.APIKindContainer:
			if framework.Profile().Image == "" {
				return nil, fmt.Errorf("framework %s: %w", framework, construct.ErrMissingImage)
			}
		}
	}

	a := &assembler{
		cfg:       cfg,
		framework: framework,
		stack: construct.NewStack("appstack-"+cfg.Version, construct.Environment{
			Region:            cfg.Region,
			AvailabilityZones: cfg.Zones(),
		}),
	}
	logging.With("assembler").Info("assembling stack",
		"stack", a.stack.Name(), "layout", string(layout), "framework", framework.String())

	switch layout {
	case APIJobServices:
		err = a.apiJobServices()
	case DatabaseLambda:
		err = a.databaseLambda()
	}
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", layout, err)
	}
	return a.stack, nil
}

type assembler struct {
	cfg       config.Deployment
	framework Framework
	stack     *construct.Stack

	network  *construct.Network
	database *construct.DataStore
	bastion  *construct.Bastion
	inside   *construct.Worker
	outside  *construct.Worker
}

func (a *assembler) id(name string) string {
	return name + "-" + a.cfg.Version
}

// core is shared by both layouts: network, database, bastion and the two
// workers.
func (a *assembler) core() error {
	var err error
	if a.network, err = construct.NewNetwork(a.stack, a.id("network"), construct.NetworkProps{
		CIDR: a.cfg.Network.CIDR,
	}); err != nil {
		return err
	}
	if a.database, err = construct.NewDataStore(a.stack, a.id("database"), construct.DataStoreProps{
		Network:            a.network,
		MultiAZ:            a.cfg.MultiAZ(),
		PubliclyAccessible: a.cfg.Database.PubliclyAccessible,
	}); err != nil {
		return err
	}
	if a.bastion, err = construct.NewBastion(a.stack, a.id("bastion"), construct.BastionProps{
		Network: a.network,
	}); err != nil {
		return err
	}
	if a.inside, err = construct.NewWorker(a.stack, a.id("lambda1"), construct.WorkerProps{
		Network:  a.network,
		CodePath: a.cfg.Workers.InNetworkCodePath,
	}); err != nil {
		return err
	}
	if a.outside, err = construct.NewWorker(a.stack, a.id("lambda2"), construct.WorkerProps{
		CodePath: a.cfg.Workers.OutOfNetworkCodePath,
	}); err != nil {
		return err
	}
	return nil
}

func (a *assembler) wireCore() error {
	db := a.database
	if _, err := db.AllowDefaultPortFrom(a.bastion); err != nil {
		return err
	}
	if _, err := db.AllowDefaultPortFrom(a.inside); err != nil {
		return err
	}
	a.inside.AddEnvironment("dbhost", db.Endpoint().Host)
	a.inside.AddEnvironment("dbport", strconv.Itoa(db.Port()))
	a.inside.AddEnvironment("dbname", db.DatabaseName())
	a.inside.AddEnvironment("dbsecret", db.Secret().Ref().Attr("arn"))
	if err := a.inside.GrantSecretRead(db.Secret()); err != nil {
		return err
	}
	if err := a.stack.Output(OutputDatabaseHost, db.Endpoint().Host); err != nil {
		return err
	}
	if err := a.stack.Output(OutputDatabasePort, db.Port()); err != nil {
		return err
	}
	return a.bastion.TunnelOutput(OutputTunnelCommand, db.Endpoint().Host, db.Port(), a.cfg.Tunnel.LocalPort)
}

func (a *assembler) databaseLambda() error {
	if err := a.core(); err != nil {
		return err
	}
	return a.wireCore()
}

func (a *assembler) apiJobServices() error {
	if err := a.core(); err != nil {
		return err
	}
	queue1, err := construct.NewQueue(a.stack, a.id("queue1"), construct.QueueProps{})
	if err != nil {
		return err
	}
	queue2, err := construct.NewQueue(a.stack, a.id("queue2"), construct.QueueProps{})
	if err != nil {
		return err
	}
	api, err := a.api()
	if err != nil {
		return err
	}

	if err := a.wireCore(); err != nil {
		return err
	}
	if _, err := a.inside.BindQueue(queue1); err != nil {
		return err
	}
	if _, err := a.outside.BindQueue(queue2); err != nil {
		return err
	}

	db := a.database
	for k, v := range map[string]string{
		"dbhost": db.Endpoint().Host,
		"dbport": strconv.Itoa(db.Port()),
		"dbname": db.DatabaseName(),
	} {
		if err := api.AddEnvironment(k, v); err != nil {
			return err
		}
	}
	if err := api.AddSecret("dbuser", db.Secret().Field(construct.SecretKeyUsername)); err != nil {
		return err
	}
	if err := api.AddSecret("dbpass", db.Secret().Field(construct.SecretKeyPassword)); err != nil {
		return err
	}
	if _, err := db.AllowDefaultPortFrom(api); err != nil {
		return err
	}
	for _, q := range []*construct.Queue{queue1, queue2} {
		if err := q.GrantSendMessages(api); err != nil {
			return err
		}
	}
	return a.stack.Output(OutputAPIURL, api.URL())
}

func (a *assembler) api() (construct.RequestService, error) {
	profile := a.framework.Profile()
	if a.cfg.API.Kind == config.APIKindContainer {
		return construct.NewContainerService(a.stack, a.id("api"), construct.ContainerServiceProps{
			Network:       a.network,
			Image:         profile.Image,
			ContainerPort: profile.Port,
		})
	}
	return construct.NewSourceService(a.stack, a.id("api"), construct.SourceServiceProps{
		Network:       a.network,
		Subnets:       &a.database.Subnets,
		Repository:    a.cfg.API.Repository,
		Branch:        profile.Branch,
		BuildCommand:  profile.BuildCommand,
		StartCommand:  profile.StartCommand,
		Port:          profile.Port,
		ConnectionArn: a.cfg.SourceConnectionArn,
	})
}
