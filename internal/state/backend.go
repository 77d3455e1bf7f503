package state

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/picklr-io/appstack/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock(ctx context.Context) error

	// Unlock releases the lock on the state.
	Unlock(ctx context.Context) error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig, loader Loader) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = DefaultPath
		}
		return NewManager(path, loader), nil
	case "s3":
		return newS3Backend(cfg.Config, loader)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// ParseLocation turns a --state value into a backend configuration. A plain
// path is local; s3://bucket/key?region=...&lock_table=... is remote.
func ParseLocation(location string) (*BackendConfig, error) {
	if location == "" {
		return &BackendConfig{Type: "local", Config: map[string]string{"path": DefaultPath}}, nil
	}
	if !strings.HasPrefix(location, "s3://") {
		return &BackendConfig{Type: "local", Config: map[string]string{"path": location}}, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid state location %q: %w", location, err)
	}
	cfg := map[string]string{
		"bucket": u.Host,
		"key":    strings.TrimPrefix(u.Path, "/"),
	}
	q := u.Query()
	for _, k := range []string{"region", "profile", "encrypt"} {
		if v := q.Get(k); v != "" {
			cfg[k] = v
		}
	}
	if v := q.Get("lock_table"); v != "" {
		cfg["dynamodb_table"] = v
	}
	return &BackendConfig{Type: "s3", Config: cfg}, nil
}
