// Package config holds the deployment configuration the stack assembler
// consumes. Values arrive from a .pkl or .yaml file; the source-control
// connection is injected by the caller.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
)

// SourceConnectionEnv names the variable the CLI reads the source-control
// connection identifier from.
const SourceConnectionEnv = "GITHUB_CONNECTION_ARN"

// API kinds.
const (
	APIKindManaged   = "apprunner"
	APIKindContainer = "container"
)

var versionLabel = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,30}$`)

// Deployment is one environment's worth of configuration.
type Deployment struct {
	Version             string         `pkl:"version" yaml:"version"`
	Layout              string         `pkl:"layout" yaml:"layout"`
	Region              string         `pkl:"region" yaml:"region"`
	AvailabilityZones   []string       `pkl:"availabilityZones" yaml:"availabilityZones"`
	Framework           string         `pkl:"framework" yaml:"framework"`
	API                 APIConfig      `pkl:"api" yaml:"api"`
	Network             NetworkConfig  `pkl:"network" yaml:"network"`
	Database            DatabaseConfig `pkl:"database" yaml:"database"`
	Tunnel              TunnelConfig   `pkl:"tunnel" yaml:"tunnel"`
	Workers             WorkersConfig  `pkl:"workers" yaml:"workers"`
	SourceConnectionArn string         `pkl:"sourceConnectionArn" yaml:"sourceConnectionArn"`
}

type APIConfig struct {
	Kind       string `pkl:"kind" yaml:"kind"`
	Repository string `pkl:"repository" yaml:"repository"`
}

type NetworkConfig struct {
	CIDR string `pkl:"cidr" yaml:"cidr"`
}

type DatabaseConfig struct {
	MultiAZ            *bool `pkl:"multiAz" yaml:"multiAz"`
	PubliclyAccessible bool  `pkl:"publiclyAccessible" yaml:"publiclyAccessible"`
}

type TunnelConfig struct {
	LocalPort int `pkl:"localPort" yaml:"localPort"`
}

type WorkersConfig struct {
	InNetworkCodePath    string `pkl:"inNetworkCodePath" yaml:"inNetworkCodePath"`
	OutOfNetworkCodePath string `pkl:"outOfNetworkCodePath" yaml:"outOfNetworkCodePath"`
}

// Default returns the configuration of the reference deployment.
func Default() Deployment {
	d := Deployment{}
	d.ApplyDefaults()
	return d
}

// ApplyDefaults fills every unset field.
func (d *Deployment) ApplyDefaults() {
	if d.Version == "" {
		d.Version = "v1"
	}
	if d.Layout == "" {
		d.Layout = "api-job-services"
	}
	if d.Region == "" {
		d.Region = "us-east-1"
	}
	if d.Framework == "" {
		d.Framework = "fast"
	}
	if d.API.Kind == "" {
		d.API.Kind = APIKindManaged
	}
	if d.API.Repository == "" {
		d.API.Repository = "https://github.com/shafkevi/simple-python-api"
	}
	if d.Network.CIDR == "" {
		d.Network.CIDR = "10.1.0.0/16"
	}
	if d.Database.MultiAZ == nil {
		on := true
		d.Database.MultiAZ = &on
	}
	if d.Tunnel.LocalPort == 0 {
		d.Tunnel.LocalPort = 5433
	}
	if d.Workers.InNetworkCodePath == "" {
		d.Workers.InNetworkCodePath = "src/lambdas/lambda1"
	}
	if d.Workers.OutOfNetworkCodePath == "" {
		d.Workers.OutOfNetworkCodePath = "src/lambdas/lambda2"
	}
}

// MultiAZ reports whether the database runs a standby.
func (d Deployment) MultiAZ() bool {
	return d.Database.MultiAZ == nil || *d.Database.MultiAZ
}

// Zones returns the availability zones to spread across, derived from the
// region when none are listed.
func (d Deployment) Zones() []string {
	if len(d.AvailabilityZones) > 0 {
		return d.AvailabilityZones
	}
	return []string{d.Region + "a", d.Region + "b", d.Region + "c"}
}

// Validate reports every structural problem at once. Layout and framework
// names are checked where they are parsed.
func (d Deployment) Validate() error {
	var errs []error

	if !versionLabel.MatchString(d.Version) {
		errs = append(errs, fmt.Errorf("version %q must be lowercase letters, digits and dashes", d.Version))
	}
	if d.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if p, err := netip.ParsePrefix(d.Network.CIDR); err != nil {
		errs = append(errs, fmt.Errorf("network.cidr: %w", err))
	} else if !p.Addr().Is4() {
		errs = append(errs, fmt.Errorf("network.cidr %q must be IPv4", d.Network.CIDR))
	}
	switch d.API.Kind {
	case APIKindManaged, APIKindContainer:
	default:
		errs = append(errs, fmt.Errorf("api.kind %q must be %q or %q", d.API.Kind, APIKindManaged, APIKindContainer))
	}
	if d.Tunnel.LocalPort < 1 || d.Tunnel.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("tunnel.localPort %d out of range", d.Tunnel.LocalPort))
	}
	if d.Workers.InNetworkCodePath == "" || d.Workers.OutOfNetworkCodePath == "" {
		errs = append(errs, errors.New("workers code paths are required"))
	}

	return errors.Join(errs...)
}
