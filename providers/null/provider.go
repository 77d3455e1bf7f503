// Package null is the dry-run backend. It records desired properties as
// state and fabricates the computed attributes other resources reference.
package null

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/picklr-io/appstack/internal/provider"
)

// TriggerType is the one resource type with trigger-based replacement.
const TriggerType = "null_resource"

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.Type != TriggerType || req.DesiredConfigJSON == nil {
		return provider.DefaultPlan(req), nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJSON == nil {
		return &provider.PlanResponse{Action: provider.Create}, nil
	}

	var prior State
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if !maps.Equal(desired.Triggers, prior.Triggers) {
		return &provider.PlanResponse{
			Action:            provider.Replace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}
	return &provider.PlanResponse{Action: provider.NoOp}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired map[string]any
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	out := make(map[string]any, len(desired)+6)
	maps.Copy(out, desired)
	for k, v := range computed(req.Type, req.Name) {
		if _, set := out[k]; !set {
			out[k] = v
		}
	}

	stateBytes, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return &provider.ApplyResponse{NewStateJSON: stateBytes}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	return &provider.DeleteResponse{}, nil
}

// computed fabricates the attributes a real backend would only know after
// creation.
func computed(typ, name string) map[string]any {
	if typ == "" || typ == TriggerType {
		return map[string]any{"id": "null-" + name}
	}
	service := strings.ToLower(strings.TrimPrefix(typ, "aws:"))
	return map[string]any{
		"id":      fmt.Sprintf("null-%s-%s", strings.ReplaceAll(service, ".", "-"), name),
		"arn":     fmt.Sprintf("arn:null:%s:::%s", service, name),
		"name":    name,
		"address": name + ".null.internal",
		"dnsName": name + ".null.internal",
		"url":     "https://" + name + ".null.internal",
	}
}

// Config is the null_resource input shape.
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

// State is the null_resource output shape.
type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}
