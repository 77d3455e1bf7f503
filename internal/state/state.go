package state

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/picklr-io/appstack/internal/ir"
)

// DefaultPath is where local state lives relative to the working directory.
const DefaultPath = ".appstack/state.pkl"

// Loader parses serialized PKL state.
type Loader interface {
	LoadState(ctx context.Context, stateFile string) (*ir.State, error)
}

// Manager handles reading and writing of local state.
type Manager struct {
	path   string
	loader Loader
}

func NewManager(path string, loader Loader) *Manager {
	return &Manager{
		path:   path,
		loader: loader,
	}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Read loads the state from the configured path.
// If the state file is encrypted, it is transparently decrypted before loading.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	state, err := loadContent(ctx, m.loader, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return state, nil
}

// Write saves the state to the configured path.
// If APPSTACK_STATE_ENCRYPTION_KEY is set, the file is transparently encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	encrypted, err := EncryptState([]byte(SerializeState(state)))
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	if err := os.WriteFile(m.path, encrypted, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	return nil
}

// Empty is the state of a stack that was never applied.
func Empty() *ir.State {
	return &ir.State{Version: 1}
}

// loadContent decrypts raw state if needed and hands it to the PKL loader,
// which only reads from files.
func loadContent(ctx context.Context, loader Loader, raw []byte) (*ir.State, error) {
	content, err := DecryptState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	tmp, err := os.CreateTemp("", "appstack-state-*.pkl")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write temp state file: %w", err)
	}

	state, err := loader.LoadState(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	normalizeState(state)
	return state, nil
}

// normalizeState turns the map[any]any values PKL mappings decode into back
// into string-keyed maps.
func normalizeState(state *ir.State) {
	state.Outputs = stringKeyed(state.Outputs)
	for _, res := range state.Resources {
		res.Inputs = stringKeyed(res.Inputs)
		res.Outputs = stringKeyed(res.Outputs)
	}
}

func stringKeyed(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return out
	case map[string]any:
		return stringKeyed(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// SerializeState converts a State to its PKL text representation. Keys are
// written sorted so unchanged state produces an identical file.
func SerializeState(state *ir.State) string {
	var b strings.Builder

	b.WriteString("// appstack state file\n\n")
	fmt.Fprintf(&b, "version = %d\n", state.Version)
	fmt.Fprintf(&b, "serial = %d\n", state.Serial)
	fmt.Fprintf(&b, "lineage = %q\n\n", state.Lineage)

	fmt.Fprintf(&b, "outputs = %s\n\n", serializePklValue(state.Outputs, 0))

	if len(state.Resources) == 0 {
		b.WriteString("resources = new Listing {}\n")
		return b.String()
	}

	b.WriteString("resources = new Listing {\n")
	for _, res := range state.Resources {
		b.WriteString("  new {\n")
		fmt.Fprintf(&b, "    type = %q\n", res.Type)
		fmt.Fprintf(&b, "    name = %q\n", res.Name)
		fmt.Fprintf(&b, "    provider = %q\n", res.Provider)
		fmt.Fprintf(&b, "    inputs = %s\n", serializePklValue(res.Inputs, 2))
		fmt.Fprintf(&b, "    inputsHash = %q\n", res.InputsHash)
		fmt.Fprintf(&b, "    outputs = %s\n", serializePklValue(res.Outputs, 2))
		fmt.Fprintf(&b, "    dependencies = %s\n", serializePklValue(res.Dependencies, 2))
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")

	return b.String()
}

// serializePklValue recursively serializes a Go value to PKL syntax. Maps
// become Mappings and slices become Listings.
func serializePklValue(v any, indentLevel int) string {
	indent := strings.Repeat("  ", indentLevel)

	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return "null"
	case map[string]any:
		if len(val) == 0 {
			return "new Mapping {}"
		}
		var b strings.Builder
		b.WriteString("new Mapping {\n")
		for _, k := range slices.Sorted(maps.Keys(val)) {
			fmt.Fprintf(&b, "%s  [%q] = %s\n", indent, k, serializePklValue(val[k], indentLevel+1))
		}
		b.WriteString(indent + "}")
		return b.String()
	case map[string]string:
		generic := make(map[string]any, len(val))
		for k, s := range val {
			generic[k] = s
		}
		return serializePklValue(generic, indentLevel)
	case map[any]any:
		return serializePklValue(normalize(val), indentLevel)
	case []string:
		generic := make([]any, len(val))
		for i, s := range val {
			generic[i] = s
		}
		return serializePklValue(generic, indentLevel)
	case []any:
		if len(val) == 0 {
			return "new Listing {}"
		}
		var b strings.Builder
		b.WriteString("new Listing {\n")
		for _, item := range val {
			fmt.Fprintf(&b, "%s  %s\n", indent, serializePklValue(item, indentLevel+1))
		}
		b.WriteString(indent + "}")
		return b.String()
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", val))
	}
}
