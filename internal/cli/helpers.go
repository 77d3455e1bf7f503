package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/AlecAivazis/survey/v2"

	"github.com/picklr-io/appstack/internal/config"
	"github.com/picklr-io/appstack/internal/eval"
	"github.com/picklr-io/appstack/internal/ir"
	"github.com/picklr-io/appstack/internal/provider"
	"github.com/picklr-io/appstack/internal/stack"
	"github.com/picklr-io/appstack/internal/state"
	"github.com/picklr-io/appstack/providers/aws"
	"github.com/picklr-io/appstack/providers/null"
)

// loadDeployment reads the deployment file and injects the source
// connection from the environment when the file does not carry one.
func loadDeployment(ctx context.Context) (config.Deployment, error) {
	d, err := eval.NewEvaluator(properties).LoadDeployment(ctx, configPath)
	if err != nil {
		return d, err
	}
	if d.SourceConnectionArn == "" {
		d.SourceConnectionArn = os.Getenv(config.SourceConnectionEnv)
	}
	return d, nil
}

// synthesize loads the deployment and returns its resource graph.
func synthesize(ctx context.Context) (config.Deployment, *ir.Config, error) {
	d, err := loadDeployment(ctx)
	if err != nil {
		return d, nil, err
	}
	s, err := stack.Assemble(d)
	if err != nil {
		return d, nil, err
	}
	cfg, err := s.Synth()
	if err != nil {
		return d, nil, fmt.Errorf("failed to synthesize %s: %w", s.Name(), err)
	}
	return d, cfg, nil
}

// newRegistry registers every provider. The null backend serves resources
// declared for aws.
func newRegistry(backend string) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	reg.Register("aws", func() provider.Provider { return aws.New() })
	reg.Register("null", func() provider.Provider { return null.New() })

	switch backend {
	case BackendAWS:
	case BackendNull:
		reg.Route("aws", "null")
	default:
		return nil, fmt.Errorf("unknown backend %q: want %s or %s", backend, BackendAWS, BackendNull)
	}
	return reg, nil
}

// configureProviders loads and configures each provider named by the config
// or the state, failing on the first error diagnostic.
func configureProviders(ctx context.Context, reg *provider.Registry, region string, cfg *ir.Config, st *ir.State) error {
	var names []string
	if cfg != nil {
		for _, res := range cfg.Resources {
			names = append(names, res.Provider)
		}
	}
	for _, res := range st.Resources {
		names = append(names, res.Provider)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	for _, name := range names {
		if name == "" {
			continue
		}
		if err := reg.LoadProvider(name); err != nil {
			return err
		}
		p, err := reg.Get(name)
		if err != nil {
			return err
		}
		resp, err := p.Configure(ctx, &provider.ConfigureRequest{Region: region, Profile: os.Getenv("AWS_PROFILE")})
		if err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", name, err)
		}
		for _, d := range resp.Diagnostics {
			if d.Severity == provider.SeverityError {
				return fmt.Errorf("provider %s: %s: %s", name, d.Summary, d.Detail)
			}
		}
	}
	return nil
}

// openState returns the backend selected by --state. The region of the
// deployment applies to a remote backend that does not name one.
func openState(region string) (state.Backend, error) {
	bc, err := state.ParseLocation(stateLocation)
	if err != nil {
		return nil, err
	}
	if bc.Type == "s3" && bc.Config["region"] == "" && region != "" {
		bc.Config["region"] = region
	}
	return state.NewBackend(bc, eval.NewEvaluator(nil))
}

// withLockedState runs fn with the state locked, then writes whatever state
// fn returns, even when fn fails part way.
func withLockedState(ctx context.Context, backend state.Backend, fn func(*ir.State) (*ir.State, error)) error {
	if err := backend.Lock(ctx); err != nil {
		return err
	}
	defer backend.Unlock(ctx)

	current, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	next, runErr := fn(current)
	if next != nil {
		if err := backend.Write(ctx, next); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	return runErr
}

// confirm asks on the terminal; any prompt failure counts as a no.
func confirm(message string) bool {
	var ok bool
	if err := survey.AskOne(&survey.Confirm{Message: message}, &ok); err != nil {
		return false
	}
	return ok
}
