package provider

import "context"

// Action is the change a provider expects to make for a resource.
type Action int

const (
	NoOp Action = iota
	Create
	Update
	Replace
	Delete
)

func (a Action) String() string {
	switch a {
	case Create:
		return "CREATE"
	case Update:
		return "UPDATE"
	case Replace:
		return "REPLACE"
	case Delete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

// Provider is the provisioning backend contract the engine drives. Config
// and state cross the boundary as JSON so providers own their own schemas.
type Provider interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}

type ConfigureRequest struct {
	Region  string
	Profile string
}

type ConfigureResponse struct {
	Diagnostics []*Diagnostic
}

// Diagnostic is a non-fatal problem reported by a provider.
type Diagnostic struct {
	Severity Severity
	Summary  string
	Detail   string
}

type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	DesiredHash       string
	PriorInputsHash   string
	PriorStateJSON    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type ApplyResponse struct {
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type             string
	Name             string
	ID               string
	CurrentStateJSON []byte
}

type DeleteResponse struct{}

// DefaultPlan is the hash-based diff shared by providers that have no
// resource-specific planning.
func DefaultPlan(req *PlanRequest) *PlanResponse {
	switch {
	case req.DesiredConfigJSON == nil && req.PriorStateJSON != nil:
		return &PlanResponse{Action: Delete}
	case req.PriorInputsHash == "" && req.PriorStateJSON == nil:
		return &PlanResponse{Action: Create}
	case req.PriorInputsHash != req.DesiredHash:
		return &PlanResponse{Action: Replace}
	default:
		return &PlanResponse{Action: NoOp}
	}
}
