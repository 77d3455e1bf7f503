package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"github.com/picklr-io/appstack/internal/config"
	"github.com/picklr-io/appstack/internal/ir"
	"gopkg.in/yaml.v3"
)

// Evaluator handles PKL and YAML evaluation into Go types.
type Evaluator struct {
	properties map[string]string
}

// NewEvaluator returns an evaluator. properties are exposed to PKL modules
// as read("prop:<name>").
func NewEvaluator(properties map[string]string) *Evaluator {
	return &Evaluator{properties: properties}
}

// LoadDeployment reads a deployment file, .pkl or .yaml, and fills defaults.
// An empty path yields the default deployment.
func (e *Evaluator) LoadDeployment(ctx context.Context, path string) (config.Deployment, error) {
	var d config.Deployment

	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "":
	case ext == ".pkl":
		if err := e.evaluate(ctx, path, &d); err != nil {
			return d, fmt.Errorf("failed to evaluate deployment %s: %w", path, err)
		}
	case ext == ".yaml" || ext == ".yml":
		if err := decodeYAML(path, &d); err != nil {
			return d, fmt.Errorf("failed to parse deployment %s: %w", path, err)
		}
	default:
		return d, fmt.Errorf("unsupported deployment file %s: want .pkl, .yaml or .yml", path)
	}

	d.ApplyDefaults()
	return d, nil
}

// LoadState evaluates a state file and returns the IR.
func (e *Evaluator) LoadState(ctx context.Context, stateFile string) (*ir.State, error) {
	var state ir.State
	if err := e.evaluate(ctx, stateFile, &state); err != nil {
		return nil, fmt.Errorf("failed to evaluate state: %w", err)
	}
	return &state, nil
}

func (e *Evaluator) evaluate(ctx context.Context, path string, out any) error {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(e.properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range e.properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewEvaluator(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return evaluator.EvaluateModule(ctx, pkl.FileSource(abs), out)
}

// decodeYAML rejects unknown keys so a typo never silently falls back to a
// default.
func decodeYAML(path string, out *config.Deployment) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
