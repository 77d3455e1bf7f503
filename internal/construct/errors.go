package construct

import "errors"

var (
	ErrMissingNetwork    = errors.New("network is required")
	ErrPortMismatch      = errors.New("port does not match the listening port")
	ErrNotConnectable    = errors.New("source has no security group")
	ErrTriggerBound      = errors.New("compute unit already has a trigger")
	ErrDuplicateResource = errors.New("resource address already registered with different properties")
	ErrDanglingRef       = errors.New("reference to an unregistered resource")
	ErrSensitiveOutput   = errors.New("secret values cannot be stack outputs")
	ErrAddressSpace      = errors.New("subnet does not fit the network address space")
	ErrMissingConnection = errors.New("source connection is required")
	ErrMissingImage      = errors.New("container image is required")
	ErrEnvConflict       = errors.New("variable is bound both as plain and secret")
)
