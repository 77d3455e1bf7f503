package ir

// State represents the persistent state.
type State struct {
	Version   int              `pkl:"version" json:"version"`
	Serial    int              `pkl:"serial" json:"serial"`
	Lineage   string           `pkl:"lineage" json:"lineage"`
	Resources []*ResourceState `pkl:"resources" json:"resources"`
	Outputs   map[string]any   `pkl:"outputs" json:"outputs"`
}

type ResourceState struct {
	Type         string         `pkl:"type" json:"type"`
	Name         string         `pkl:"name" json:"name"`
	Provider     string         `pkl:"provider" json:"provider"`
	Inputs       map[string]any `pkl:"inputs" json:"inputs"` // User provided
	InputsHash   string         `pkl:"inputsHash" json:"inputsHash"`
	Outputs      map[string]any `pkl:"outputs" json:"outputs"` // Provider returned
	Dependencies []string       `pkl:"dependencies" json:"dependencies"`
}

// Addr returns the graph address of the stored resource.
func (r *ResourceState) Addr() string {
	return Addr(r.Type, r.Name)
}
