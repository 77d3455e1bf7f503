package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/picklr-io/appstack/internal/ir"
	"github.com/picklr-io/appstack/internal/logging"
	"github.com/picklr-io/appstack/internal/provider"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// It applies resources in parallel respecting dependency ordering.
// If e.ContinueOnError is true, apply will continue past individual resource
// failures and return an aggregated error at the end.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	// Build a lookup map for existing resources in state by address
	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		stateIndex[res.Addr()] = i
	}

	// Group changes: separate creates/updates from deletes
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == "DELETE" {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	// Build dependency graph for parallel execution of creates/updates
	if len(createUpdates) > 1 {
		if err := e.applyParallel(ctx, createUpdates, state, &stateIndex, &mu, emit); err != nil {
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
		}
	} else {
		// Single change or empty - apply sequentially
		for _, change := range createUpdates {
			if err := ctx.Err(); err != nil {
				return state, fmt.Errorf("apply cancelled: %w", err)
			}
			start := time.Now()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
			if err := e.applyChange(ctx, change, state, &stateIndex, &mu); err != nil {
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
				if !e.ContinueOnError {
					return state, err
				}
				errs = append(errs, err)
				continue
			}
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
		}
	}

	// Deletes run one at a time in the order planned (dependents first).
	for _, change := range deletes {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("apply cancelled: %w", err)
		}
		start := time.Now()
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
		if err := e.applyChange(ctx, change, state, &stateIndex, &mu); err != nil {
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
			continue
		}
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
	}

	state.Serial++
	state.Outputs = resolveOutputs(plan.Outputs, state)

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}

	return state, nil
}

// applyParallel applies changes concurrently, respecting the dependency order
// embedded in the plan (which is already topologically sorted).
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	// Build a mini dependency graph from the changes
	// The plan is already in dependency order, so we can use the position
	// to determine which resources can run in parallel.
	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	// Track dependencies: for each change, find which other changes it depends on
	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		if c.Desired != nil {
			// Check DependsOn
			for _, d := range c.Desired.DependsOn {
				if _, ok := changeMap[d]; ok {
					deps[c.Address][d] = true
				}
			}
			for _, ref := range ExtractRefs(c.Desired.Properties) {
				depAddr := ptrRefToAddr(ref)
				if _, ok := changeMap[depAddr]; ok {
					deps[c.Address][depAddr] = true
				}
			}
		}
	}

	// Parallel execution using a semaphore and dependency tracking
	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	var firstErr error
	var allErrs []error
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			// Wait for dependencies to complete
			completedMu.Lock()
			for {
				if firstErr != nil && !e.ContinueOnError {
					completedMu.Unlock()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				// If a dependency failed, skip this resource
				if depFailed {
					failed[c.Address] = true
					completedMu.Unlock()
					completedCond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			if err := ctx.Err(); err != nil {
				completedMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
					allErrs = append(allErrs, firstErr)
				}
				// Dependents waiting on this address must see it settle.
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			// Acquire semaphore slot
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				completedMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	switch change.Action {
	case "CREATE", "UPDATE":
		return e.applyDesired(ctx, prov, provName, change, state, stateIndex, mu, true)

	case "REPLACE":
		if change.Desired.Lifecycle != nil && change.Desired.Lifecycle.CreateBeforeDestroy {
			old := priorResource(addr, state, stateIndex, mu)
			if err := e.applyDesired(ctx, prov, provName, change, state, stateIndex, mu, false); err != nil {
				return err
			}
			return e.deleteResource(ctx, prov, change.Desired.Type, change.Desired.Name, old)
		}
		if err := e.deleteResource(ctx, prov, change.Desired.Type, change.Desired.Name, priorResource(addr, state, stateIndex, mu)); err != nil {
			return err
		}
		return e.applyDesired(ctx, prov, provName, change, state, stateIndex, mu, false)

	case "DELETE":
		if err := e.deleteResource(ctx, prov, change.Prior.Type, change.Prior.Name, priorResource(addr, state, stateIndex, mu)); err != nil {
			return err
		}
		mu.Lock()
		removeResource(addr, state, stateIndex)
		mu.Unlock()
	}

	return nil
}

// applyDesired creates or updates one resource and records its new state.
// withPrior hands the provider the previous outputs for in-place updates.
func (e *Engine) applyDesired(ctx context.Context, prov provider.Provider, provName string, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, withPrior bool) error {
	addr := change.Address
	res := change.Desired

	generic, err := toGeneric(res.Properties)
	if err != nil {
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}

	mu.Lock()
	resolved, err := resolveReferences(generic, state)
	var priorJSON []byte
	if prior := lookup(addr, state, *stateIndex); withPrior && prior != nil && prior.Outputs != nil {
		priorJSON, _ = json.Marshal(prior.Outputs)
	}
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}

	desiredJSON, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
	}

	var resp *provider.ApplyResponse
	err = RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		var applyErr error
		resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
			Type:              res.Type,
			Name:              res.Name,
			DesiredConfigJSON: desiredJSON,
			PriorStateJSON:    priorJSON,
		})
		return applyErr
	}, IsTransientError)
	if err != nil {
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}

	var outputs map[string]any
	if len(resp.NewStateJSON) > 0 {
		if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
	}

	hash, err := InputsHash(res.Properties)
	if err != nil {
		return err
	}

	newResState := &ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     provName,
		Inputs:       res.Properties,
		InputsHash:   hash,
		Outputs:      outputs,
		Dependencies: dependenciesOf(res),
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		state.Resources[idx] = newResState
	} else {
		(*stateIndex)[addr] = len(state.Resources)
		state.Resources = append(state.Resources, newResState)
	}
	mu.Unlock()
	return nil
}

func (e *Engine) deleteResource(ctx context.Context, prov provider.Provider, typ, name string, prior *ir.ResourceState) error {
	if prior == nil {
		return nil
	}
	var resourceID string
	if id, ok := prior.Outputs["id"]; ok {
		resourceID = fmt.Sprintf("%v", id)
	}
	currentJSON, _ := json.Marshal(prior.Outputs)

	err := RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		_, deleteErr := prov.Delete(ctx, &provider.DeleteRequest{
			Type:             typ,
			Name:             name,
			ID:               resourceID,
			CurrentStateJSON: currentJSON,
		})
		return deleteErr
	}, IsTransientError)
	if err != nil {
		return fmt.Errorf("delete failed for %s: %w", prior.Addr(), err)
	}
	return nil
}

func priorResource(addr string, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) *ir.ResourceState {
	mu.Lock()
	defer mu.Unlock()
	return lookup(addr, state, *stateIndex)
}

func lookup(addr string, state *ir.State, stateIndex map[string]int) *ir.ResourceState {
	if idx, ok := stateIndex[addr]; ok {
		return state.Resources[idx]
	}
	return nil
}

func removeResource(addr string, state *ir.State, stateIndex *map[string]int) {
	idx, ok := (*stateIndex)[addr]
	if !ok {
		return
	}
	state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
	*stateIndex = make(map[string]int, len(state.Resources))
	for i, res := range state.Resources {
		(*stateIndex)[res.Addr()] = i
	}
}

// dependenciesOf lists the addresses a resource depends on, for ordering a
// later destroy without the config at hand.
func dependenciesOf(res *ir.Resource) []string {
	var deps []string
	seen := make(map[string]bool)
	add := func(a string) {
		if a != "" && a != res.Addr() && !seen[a] {
			seen[a] = true
			deps = append(deps, a)
		}
	}
	for _, d := range res.DependsOn {
		add(d)
	}
	for _, ref := range ExtractRefs(res.Properties) {
		add(ptrRefToAddr(ref))
	}
	return deps
}

// resolveReferences replaces ptr:// references with the attribute values
// recorded in state. A reference whose target or attribute is unknown is an
// error: the target has not been applied.
func resolveReferences(val any, state *ir.State) (any, error) {
	switch v := val.(type) {
	case string:
		if _, _, _, ok := ir.ParseRef(v); ok {
			return lookupRef(v, state)
		}
		if !embeddedRef.MatchString(v) {
			return v, nil
		}
		var firstErr error
		out := embeddedRef.ReplaceAllStringFunc(v, func(m string) string {
			ref := embeddedRef.FindStringSubmatch(m)[1]
			resolved, err := lookupRef(ref, state)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return m
			}
			return fmt.Sprintf("%v", resolved)
		})
		return out, firstErr
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, item := range v {
			r, err := resolveReferences(item, state)
			if err != nil {
				return nil, err
			}
			newMap[k] = r
		}
		return newMap, nil
	case []any:
		newSlice := make([]any, len(v))
		for i, item := range v {
			r, err := resolveReferences(item, state)
			if err != nil {
				return nil, err
			}
			newSlice[i] = r
		}
		return newSlice, nil
	default:
		return v, nil
	}
}

func lookupRef(ref string, state *ir.State) (any, error) {
	typ, name, attr, _ := ir.ParseRef(ref)
	for _, res := range state.Resources {
		if res.Type != typ || res.Name != name {
			continue
		}
		if val, ok := attrPath(res.Outputs, attr); ok {
			return val, nil
		}
		if val, ok := attrPath(res.Inputs, attr); ok {
			return val, nil
		}
		return nil, fmt.Errorf("unresolved reference %s: attribute %q not in state", ref, attr)
	}
	return nil, fmt.Errorf("unresolved reference %s: %s not in state", ref, ir.Addr(typ, name))
}

// attrPath walks a slash-separated attribute path through nested maps.
func attrPath(m map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = m
	for _, part := range strings.Split(path, "/") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// resolveOutputs resolves references in stack outputs after apply. An output
// whose target is missing keeps its raw reference.
func resolveOutputs(outputs map[string]any, state *ir.State) map[string]any {
	if outputs == nil {
		return nil
	}
	resolved := make(map[string]any, len(outputs))
	for k, v := range outputs {
		generic, err := toGeneric(v)
		if err != nil {
			resolved[k] = v
			continue
		}
		r, err := resolveReferences(generic, state)
		if err != nil {
			logging.Warn("output left unresolved", "output", k, "error", err)
			r = v
		}
		resolved[k] = r
	}
	return resolved
}
