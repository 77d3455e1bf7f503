package construct

import (
	"testing"

	"github.com/picklr-io/appstack/internal/ir"
	"github.com/stretchr/testify/require"
)

func testStack(t *testing.T) *Stack {
	t.Helper()
	return NewStack("test", Environment{
		Region:            "us-east-1",
		AvailabilityZones: []string{"us-east-1a", "us-east-1b", "us-east-1c"},
	})
}

func testNetwork(t *testing.T, s *Stack) *Network {
	t.Helper()
	n, err := NewNetwork(s, "net", NetworkProps{CIDR: "10.1.0.0/16"})
	require.NoError(t, err)
	return n
}

func ofType(cfg *ir.Config, typ string) []*ir.Resource {
	var out []*ir.Resource
	for _, r := range cfg.Resources {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func synth(t *testing.T, s *Stack) *ir.Config {
	t.Helper()
	cfg, err := s.Synth()
	require.NoError(t, err)
	return cfg
}

func find(t *testing.T, cfg *ir.Config, ref Ref) *ir.Resource {
	t.Helper()
	for _, r := range cfg.Resources {
		if r.Type == ref.Type && r.Name == ref.Name {
			return r
		}
	}
	t.Fatalf("resource %s not synthesized", ref.Addr())
	return nil
}
