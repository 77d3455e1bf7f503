package ir

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `pkl:"metadata" json:"metadata"`
	Changes  []*ResourceChange `pkl:"changes" json:"changes"`
	Summary  *PlanSummary      `pkl:"summary" json:"summary"`
	Outputs  map[string]any    `pkl:"outputs" json:"outputs"`
}

type PlanMetadata struct {
	Timestamp      string  `pkl:"timestamp" json:"timestamp"`
	ConfigHash     string  `pkl:"configHash" json:"configHash"`
	PriorStateHash *string `pkl:"priorStateHash" json:"priorStateHash,omitempty"`
}

type ResourceChange struct {
	Address string                   `pkl:"address" json:"address"`
	Action  string                   `pkl:"action" json:"action"` // "CREATE", "UPDATE", "DELETE", "REPLACE", "NOOP"
	Desired *Resource                `pkl:"resource" json:"resource,omitempty"`
	Prior   *Resource                `pkl:"prior" json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `pkl:"diff" json:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `pkl:"before" json:"before,omitempty"`
	After             any    `pkl:"after" json:"after,omitempty"`
	Sensitive         bool   `pkl:"sensitive" json:"sensitive,omitempty"`
	ForcesReplacement bool   `pkl:"forcesReplacement" json:"forcesReplacement,omitempty"`
	Action            string `pkl:"action" json:"action"` // "create", "update", "delete", "noop"
}

type PlanSummary struct {
	Create  int `pkl:"create" json:"create"`
	Update  int `pkl:"update" json:"update"`
	Delete  int `pkl:"delete" json:"delete"`
	Replace int `pkl:"replace" json:"replace"`
	NoOp    int `pkl:"noop" json:"noop"`
}
