package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// InputsHash fingerprints a property map independently of key order so a
// plan can tell whether a resource's desired inputs moved since last apply.
func InputsHash(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}

	generic, err := toGeneric(props)
	if err != nil {
		return "", err
	}

	s, err := structpb.NewStruct(generic.(map[string]any))
	if err != nil {
		return "", fmt.Errorf("failed to encode inputs: %w", err)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal inputs: %w", err)
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// toGeneric flattens typed slices and maps into the JSON-shaped values that
// structpb and reference resolution walk.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(normalizeValue(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return out, nil
}
