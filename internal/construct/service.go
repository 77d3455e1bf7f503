package construct

import (
	"fmt"
	"sort"
)

// RequestService is a request/response API, whichever platform hosts it.
type RequestService interface {
	Connectable
	Principal
	AddEnvironment(key, value string) error
	AddSecret(key string, field SecretField) error
	URL() string
}

// runtimeEnv collects the plain and secret environment of a service until
// the stack is synthesized.
type runtimeEnv struct {
	vars    map[string]string
	secrets map[string]SecretField
}

func newRuntimeEnv() runtimeEnv {
	return runtimeEnv{vars: map[string]string{}, secrets: map[string]SecretField{}}
}

func (e runtimeEnv) setVar(key, value string) error {
	if _, ok := e.secrets[key]; ok {
		return fmt.Errorf("variable %q: %w", key, ErrEnvConflict)
	}
	e.vars[key] = value
	return nil
}

func (e runtimeEnv) setSecret(key string, field SecretField) error {
	if key == "" || field.Key == "" || field.Secret.IsZero() {
		return fmt.Errorf("secret %q: incomplete secret field", key)
	}
	if _, ok := e.vars[key]; ok {
		return fmt.Errorf("secret %q: %w", key, ErrEnvConflict)
	}
	e.secrets[key] = field
	return nil
}

func (e runtimeEnv) varMap() map[string]any {
	out := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

func (e runtimeEnv) secretMap() map[string]any {
	out := make(map[string]any, len(e.secrets))
	for k, f := range e.secrets {
		out[k] = f.ValueFrom()
	}
	return out
}

// nameValues renders the environment as the sorted name/value list the
// container platform expects.
func (e runtimeEnv) nameValues() []any {
	return sortedPairs(e.vars, "value")
}

func (e runtimeEnv) nameValueFroms() []any {
	m := make(map[string]string, len(e.secrets))
	for k, f := range e.secrets {
		m[k] = f.ValueFrom()
	}
	return sortedPairs(m, "valueFrom")
}

func sortedPairs(m map[string]string, valueKey string) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = map[string]any{"name": k, valueKey: m[k]}
	}
	return out
}
