package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ name string }

func (s *stubProvider) Configure(context.Context, *ConfigureRequest) (*ConfigureResponse, error) {
	return &ConfigureResponse{}, nil
}

func (s *stubProvider) Plan(_ context.Context, req *PlanRequest) (*PlanResponse, error) {
	return DefaultPlan(req), nil
}

func (s *stubProvider) Apply(context.Context, *ApplyRequest) (*ApplyResponse, error) {
	return &ApplyResponse{}, nil
}

func (s *stubProvider) Delete(context.Context, *DeleteRequest) (*DeleteResponse, error) {
	return &DeleteResponse{}, nil
}

func TestRegistry_LoadAndGet(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("stub", func() Provider {
		calls++
		return &stubProvider{name: "stub"}
	})

	require.NoError(t, reg.LoadProvider("stub"))
	require.NoError(t, reg.LoadProvider("stub"))
	assert.Equal(t, 1, calls, "factory runs once")

	p, err := reg.Get("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", p.(*stubProvider).name)
}

func TestRegistry_Unknown(t *testing.T) {
	reg := NewRegistry()
	err := reg.LoadProvider("gcp")
	assert.ErrorContains(t, err, "unknown provider")

	_, err = reg.Get("gcp")
	assert.ErrorContains(t, err, "not loaded")
}

func TestRegistry_Route(t *testing.T) {
	reg := NewRegistry()
	reg.Register("null", func() Provider { return &stubProvider{name: "null"} })
	reg.Route("aws", "null")

	require.NoError(t, reg.LoadProvider("aws"))
	p, err := reg.Get("aws")
	require.NoError(t, err)
	assert.Equal(t, "null", p.(*stubProvider).name)
}

func TestDefaultPlan(t *testing.T) {
	tests := []struct {
		name string
		req  *PlanRequest
		want Action
	}{
		{"new", &PlanRequest{DesiredConfigJSON: []byte(`{}`), DesiredHash: "a"}, Create},
		{"same", &PlanRequest{DesiredConfigJSON: []byte(`{}`), DesiredHash: "a", PriorInputsHash: "a", PriorStateJSON: []byte(`{}`)}, NoOp},
		{"changed", &PlanRequest{DesiredConfigJSON: []byte(`{}`), DesiredHash: "b", PriorInputsHash: "a", PriorStateJSON: []byte(`{}`)}, Replace},
		{"removed", &PlanRequest{PriorStateJSON: []byte(`{}`)}, Delete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultPlan(tt.req).Action)
		})
	}
}
