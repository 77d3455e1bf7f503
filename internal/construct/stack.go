// Package construct builds the resource graph of an application topology.
// Constructs register descriptors with a Stack; nothing touches the cloud
// until the engine applies the synthesized config.
package construct

import (
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"strings"

	"github.com/picklr-io/appstack/internal/engine"
	"github.com/picklr-io/appstack/internal/ir"
	"github.com/picklr-io/appstack/internal/logging"
)

// DefaultProvider backs every resource a construct emits.
const DefaultProvider = "aws"

// StackTag is set on every resource to the owning stack's name.
const StackTag = "appstack:stack"

// Environment is where a stack deploys.
type Environment struct {
	Region            string
	AvailabilityZones []string
}

// Stack is one deployment unit: an ordered registry of resource descriptors
// plus named outputs. It is built on a single goroutine.
type Stack struct {
	name       string
	env        Environment
	resources  []*ir.Resource
	index      map[string]int
	outputs    map[string]any
	finalizers []func() error
	log        *slog.Logger
}

func NewStack(name string, env Environment) *Stack {
	return &Stack{
		name:    name,
		env:     env,
		index:   make(map[string]int),
		outputs: make(map[string]any),
		log:     logging.With("construct").With("stack", name),
	}
}

func (s *Stack) Name() string {
	return s.name
}

func (s *Stack) Env() Environment {
	return s.env
}

// Add registers a descriptor. Registering an identical descriptor again
// returns the existing Ref; a different one at the same address fails.
func (s *Stack) Add(res *ir.Resource) (Ref, error) {
	if res.Provider == "" {
		res.Provider = DefaultProvider
	}
	if res.Properties == nil {
		res.Properties = map[string]any{}
	}
	if _, ok := res.Properties["tags"]; !ok {
		res.Properties["tags"] = map[string]any{"Name": res.Name, StackTag: s.name}
	}

	ref := Ref{Type: res.Type, Name: res.Name}
	addr := ref.Addr()
	if idx, ok := s.index[addr]; ok {
		if sameDescriptor(s.resources[idx], res) {
			return ref, nil
		}
		return Ref{}, fmt.Errorf("%w: %s", ErrDuplicateResource, addr)
	}

	s.index[addr] = len(s.resources)
	s.resources = append(s.resources, res)
	s.log.Debug("registered resource", "address", addr)
	return ref, nil
}

// Lookup returns the descriptor behind a Ref.
func (s *Stack) Lookup(ref Ref) (*ir.Resource, bool) {
	idx, ok := s.index[ref.Addr()]
	if !ok {
		return nil, false
	}
	return s.resources[idx], true
}

// replace swaps the properties of a registered resource, keeping its
// position. Constructs whose properties grow after construction use it.
func (s *Stack) replace(ref Ref, props map[string]any) error {
	res, ok := s.Lookup(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDanglingRef, ref.Addr())
	}
	if _, ok := props["tags"]; !ok {
		props["tags"] = res.Properties["tags"]
	}
	res.Properties = props
	return nil
}

// onSynth defers work until Synth, after every mutator has run.
func (s *Stack) onSynth(fn func() error) {
	s.finalizers = append(s.finalizers, fn)
}

// Output registers a named artifact. Values may embed ${ptr://...}
// references; secret fields are refused.
func (s *Stack) Output(name string, value any) error {
	if name == "" {
		return fmt.Errorf("output name is required")
	}
	switch value.(type) {
	case SecretField, *SecretField, SecretRef, *SecretRef:
		return fmt.Errorf("%w: %s", ErrSensitiveOutput, name)
	}
	for _, ref := range engine.ExtractRefs(value) {
		if typ, _, attr, ok := ir.ParseRef(ref); ok && typ == typeSecret && attr != "arn" {
			return fmt.Errorf("%w: %s reads %s", ErrSensitiveOutput, name, ref)
		}
	}
	if prev, ok := s.outputs[name]; ok && !reflect.DeepEqual(prev, value) {
		return fmt.Errorf("output %q already registered with a different value", name)
	}
	s.outputs[name] = value
	return nil
}

// Synth finalizes every construct and returns the graph for the engine.
// Every reference must resolve to a registered resource and the graph must
// be acyclic.
func (s *Stack) Synth() (*ir.Config, error) {
	for _, fn := range s.finalizers {
		if err := fn(); err != nil {
			return nil, err
		}
	}

	var dangling []string
	dangling = append(dangling, engine.DanglingRefs(s.resources)...)
	for name, v := range s.outputs {
		for _, ref := range engine.ExtractRefs(v) {
			if typ, rname, _, ok := ir.ParseRef(ref); !ok || !s.has(typ, rname) {
				dangling = append(dangling, fmt.Sprintf("%s (output %s)", ref, name))
			}
		}
	}
	if len(dangling) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDanglingRef, strings.Join(dangling, ", "))
	}

	if _, err := engine.BuildDAG(s.resources); err != nil {
		return nil, err
	}

	resources := make([]*ir.Resource, len(s.resources))
	copy(resources, s.resources)
	return &ir.Config{
		Stack:     s.name,
		Resources: resources,
		Outputs:   maps.Clone(s.outputs),
	}, nil
}

func (s *Stack) has(typ, name string) bool {
	_, ok := s.index[ir.Addr(typ, name)]
	return ok
}

func sameDescriptor(a, b *ir.Resource) bool {
	return a.Type == b.Type &&
		a.Provider == b.Provider &&
		a.Timeout == b.Timeout &&
		reflect.DeepEqual(a.Lifecycle, b.Lifecycle) &&
		reflect.DeepEqual(a.DependsOn, b.DependsOn) &&
		reflect.DeepEqual(a.Properties, b.Properties)
}

// resourceName joins construct ids and suffixes into a resource name.
func resourceName(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, strings.ToLower(p))
		}
	}
	return strings.Join(kept, "-")
}
