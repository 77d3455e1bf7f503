package ir

// Config represents a synthesized stack: every resource descriptor plus the
// named output artifacts.
type Config struct {
	Stack     string         `pkl:"stack" json:"stack"`
	Resources []*Resource    `pkl:"resources" json:"resources"`
	Outputs   map[string]any `pkl:"outputs" json:"outputs"`
}
