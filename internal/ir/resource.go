package ir

import (
	"fmt"
	"strings"
)

// RefScheme prefixes every cross-resource reference.
const RefScheme = "ptr://"

// Resource represents a single managed resource descriptor.
type Resource struct {
	Type       string         `pkl:"type" json:"type"` // e.g., "aws:EC2.Vpc"
	Name       string         `pkl:"name" json:"name"`
	Provider   string         `pkl:"provider" json:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle" json:"lifecycle,omitempty"`
	DependsOn  []string       `pkl:"dependsOn" json:"dependsOn,omitempty"`
	Timeout    string         `pkl:"timeout" json:"timeout,omitempty"`
	Properties map[string]any `pkl:"properties" json:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy" json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `pkl:"preventDestroy" json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `pkl:"ignoreChanges" json:"ignoreChanges,omitempty"`
}

// Addr returns the graph address of the resource (type.name).
func (r *Resource) Addr() string {
	return Addr(r.Type, r.Name)
}

// Addr joins a resource type and name into a graph address.
func Addr(typ, name string) string {
	if typ == "" {
		typ = "null_resource"
	}
	return fmt.Sprintf("%s.%s", typ, name)
}

// RefString builds a reference to an attribute of another resource:
// ptr://aws:EC2.Vpc/my-vpc/id
func RefString(typ, name, attr string) string {
	return fmt.Sprintf("%s%s/%s/%s", RefScheme, typ, name, attr)
}

// ParseRef splits a ptr:// reference into its type, name and attribute.
// The attribute is empty when the reference only names a resource.
func ParseRef(ref string) (typ, name, attr string, ok bool) {
	if !strings.HasPrefix(ref, RefScheme) {
		return "", "", "", false
	}
	parts := strings.SplitN(ref[len(RefScheme):], "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		attr = parts[2]
	}
	return parts[0], parts[1], attr, true
}
