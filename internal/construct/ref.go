package construct

import "github.com/picklr-io/appstack/internal/ir"

// Ref is an immutable handle to a registered resource. Handing a Ref to
// another construct shares read access to the resource; it never moves
// ownership.
type Ref struct {
	Type string
	Name string
}

// Addr returns the graph address.
func (r Ref) Addr() string {
	return ir.Addr(r.Type, r.Name)
}

// Attr references one attribute, resolved by the engine once the resource
// exists: ptr://<type>/<name>/<attr>.
func (r Ref) Attr(attr string) string {
	return ir.RefString(r.Type, r.Name, attr)
}

// Interp is Attr in ${...} form, for embedding in a larger string.
func (r Ref) Interp(attr string) string {
	return "${" + r.Attr(attr) + "}"
}

func (r Ref) IsZero() bool {
	return r.Type == "" && r.Name == ""
}

// Connectable is anything that owns a security group and so can be granted
// network reachability.
type Connectable interface {
	SecurityGroup() (Ref, bool)
}

// Principal is anything that runs under an IAM role and so can be granted
// permissions.
type Principal interface {
	Role() Ref
}
