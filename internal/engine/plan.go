package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/picklr-io/appstack/internal/ir"
	"github.com/picklr-io/appstack/internal/logging"
	"github.com/picklr-io/appstack/internal/provider"
)

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // If true, apply continues past failures instead of stopping
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	configHash, err := InputsHash(map[string]any{"resources": cfg.Resources, "outputs": cfg.Outputs})
	if err != nil {
		return nil, fmt.Errorf("failed to hash config: %w", err)
	}
	plan := newPlan(cfg.Outputs)
	plan.Metadata.ConfigHash = configHash

	// 1. Load all required providers
	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	// 2. Build dependency graph for ordering
	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	// 3. Build state map for quick lookup
	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Addr()] = res
	}

	// 4. Build config map for quick lookup
	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		configByAddr[res.Addr()] = res
	}

	// 5. Build target set (if targets specified, include their dependencies)
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		// Add transitive dependencies of targets
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	// 6. Iterate desired resources in dependency order
	replaced := make(map[string]bool)
	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		// Skip non-targeted resources
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		resourceType := res.Type
		if resourceType == "" {
			resourceType = "null_resource"
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		// Prepare request
		props := normalizeValue(res.Properties)
		desiredJSON, err := json.Marshal(props)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		desiredHash, err := InputsHash(res.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to hash properties for %s: %w", addr, err)
		}

		var priorJSON []byte
		var priorHash string
		if prior, ok := stateMap[addr]; ok {
			priorJSON, _ = json.Marshal(prior.Outputs)
			priorHash = prior.InputsHash
		}
		// A replaced dependency hands this resource new computed inputs.
		if priorHash != "" && slices.ContainsFunc(dag.Dependencies(addr), func(dep string) bool { return replaced[dep] }) {
			priorHash = ""
		}

		resp, err := prov.Plan(ctx, &provider.PlanRequest{
			Type:              resourceType,
			Name:              res.Name,
			DesiredConfigJSON: desiredJSON,
			DesiredHash:       desiredHash,
			PriorInputsHash:   priorHash,
			PriorStateJSON:    priorJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		if resp.Action != provider.NoOp {
			action := filterIgnoredChanges(res, resp, stateMap[addr])
			if action == provider.NoOp {
				plan.Summary.NoOp++
				continue
			}
			if err := enforceLifecycle(res, action, addr); err != nil {
				return nil, err
			}
			if action == provider.Replace {
				replaced[addr] = true
			}

			change := &ir.ResourceChange{
				Address: addr,
				Action:  action.String(),
				Desired: res,
			}

			if prior, ok := stateMap[addr]; ok {
				change.Prior = &ir.Resource{
					Type:       prior.Type,
					Name:       prior.Name,
					Provider:   prior.Provider,
					Properties: prior.Inputs,
				}
				change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
			} else {
				change.Diff = buildCreateDiff(res.Properties)
			}

			plan.Changes = append(plan.Changes, change)

			switch action {
			case provider.Create:
				plan.Summary.Create++
			case provider.Update:
				plan.Summary.Update++
			case provider.Replace:
				plan.Summary.Replace++
			case provider.Delete:
				plan.Summary.Delete++
			}
		} else {
			plan.Summary.NoOp++
		}
	}

	// 7. Handle deletions (resources in state but not in config), dependents first
	removed := make([]*ir.ResourceState, 0)
	for _, res := range state.Resources {
		addr := res.Addr()
		if _, ok := configByAddr[addr]; ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		removed = append(removed, res)
	}
	if err := appendDeletes(plan, removed); err != nil {
		return nil, err
	}

	return plan, nil
}

// CreateDestroyPlan plans the deletion of every resource in state, in
// reverse dependency order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, state *ir.State) (*ir.Plan, error) {
	logging.Debug("creating destroy plan", "state_resources", len(state.Resources))
	for _, res := range state.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	plan := newPlan(nil)
	if err := appendDeletes(plan, state.Resources); err != nil {
		return nil, err
	}
	return plan, nil
}

func newPlan(outputs map[string]any) *ir.Plan {
	return &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: outputs,
	}
}

func appendDeletes(plan *ir.Plan, resources []*ir.ResourceState) error {
	dag, err := BuildDAGFromState(resources)
	if err != nil {
		return fmt.Errorf("failed to order deletions: %w", err)
	}
	byAddr := make(map[string]*ir.ResourceState, len(resources))
	for _, res := range resources {
		byAddr[res.Addr()] = res
	}

	for _, addr := range dag.DestructionOrder() {
		res := byAddr[addr]
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  provider.Delete.String(),
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				DependsOn:  res.Dependencies,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		})
		plan.Summary.Delete++
	}
	return nil
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action provider.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == provider.Delete || action == provider.Replace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges downgrades an update or replacement to NOOP when
// every changed top-level attribute is listed in IgnoreChanges. Providers
// may report the changed attributes; otherwise they are derived from the
// recorded inputs.
func filterIgnoredChanges(res *ir.Resource, resp *provider.PlanResponse, prior *ir.ResourceState) provider.Action {
	if prior == nil || res.Lifecycle == nil || len(res.Lifecycle.IgnoreChanges) == 0 {
		return resp.Action
	}
	if resp.Action != provider.Update && resp.Action != provider.Replace {
		return resp.Action
	}

	changed := resp.ChangedAttributes
	if len(changed) == 0 {
		for k := range buildPropertyDiff(prior.Inputs, res.Properties) {
			changed = append(changed, k)
		}
	}
	if len(changed) == 0 {
		return resp.Action
	}
	for _, attr := range changed {
		if !slices.Contains(res.Lifecycle.IgnoreChanges, attr) {
			return resp.Action
		}
	}
	return provider.NoOp
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		if !inPrior {
			diff[k] = &ir.PropertyDiff{
				After:  desiredVal,
				Action: "create",
			}
		} else if !inDesired {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				Action: "delete",
			}
		} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal) {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: "update",
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
