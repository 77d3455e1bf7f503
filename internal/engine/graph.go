package engine

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/picklr-io/appstack/internal/ir"
)

// embeddedRef matches ${ptr://...} inside a larger string.
var embeddedRef = regexp.MustCompile(`\$\{(ptr://[^}]+)\}`)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	keys     []string // insertion order, keeps sorting stable
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

func newDAG() *DAG {
	return &DAG{nodes: make(map[string]*dagNode)}
}

func (d *DAG) addNode(addr string) *dagNode {
	if n, ok := d.nodes[addr]; ok {
		return n
	}
	n := &dagNode{addr: addr}
	d.nodes[addr] = n
	d.keys = append(d.keys, addr)
	return n
}

func (n *dagNode) dependOn(addr string) {
	if addr == n.addr || slices.Contains(n.edges, addr) {
		return
	}
	n.edges = append(n.edges, addr)
}

// BuildDAG constructs a dependency graph from resources.
// It resolves explicit DependsOn as well as bare and embedded ptr:// references.
// References to addresses outside the set are ignored; see DanglingRefs.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := newDAG()
	for _, res := range resources {
		dag.addNode(res.Addr())
	}

	for _, res := range resources {
		node := dag.nodes[res.Addr()]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.dependOn(dep)
			}
		}

		for _, ref := range ExtractRefs(res.Properties) {
			if depAddr := ptrRefToAddr(ref); depAddr != "" {
				if _, ok := dag.nodes[depAddr]; ok {
					node.dependOn(depAddr)
				}
			}
		}
	}

	return dag.finish()
}

// BuildDAGFromState constructs a dependency graph from state resources (for destroy).
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := newDAG()
	for _, res := range resources {
		dag.addNode(res.Addr())
	}
	for _, res := range resources {
		node := dag.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok {
				node.dependOn(dep)
			}
		}
	}
	return dag.finish()
}

func (d *DAG) finish() (*DAG, error) {
	for _, addr := range d.keys {
		for _, dep := range d.nodes[addr].edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return d, nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// topoSort performs Kahn's algorithm. Ties are broken by insertion order.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var queue []string
	for _, addr := range d.keys {
		inDegree[addr] = len(d.nodes[addr].edges)
		if inDegree[addr] == 0 {
			queue = append(queue, addr)
		}
	}

	sorted := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		var stuck []string
		for _, addr := range d.keys {
			if inDegree[addr] > 0 {
				stuck = append(stuck, addr)
			}
		}
		return nil, fmt.Errorf("dependency cycle detected in resource graph: %s", strings.Join(stuck, ", "))
	}

	return sorted, nil
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every address addr depends on, directly or not.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(addr)
	return out
}

// DOT renders the graph in Graphviz format, edges pointing at dependencies.
func (d *DAG) DOT() string {
	var b strings.Builder
	b.WriteString("digraph G {\n  rankdir = \"RL\";\n")
	for _, addr := range d.order {
		fmt.Fprintf(&b, "  %q;\n", addr)
		for _, dep := range d.nodes[addr].edges {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr, dep)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// DanglingRefs lists every reference in resources whose target address is
// not among them.
func DanglingRefs(resources []*ir.Resource) []string {
	known := make(map[string]bool, len(resources))
	for _, res := range resources {
		known[res.Addr()] = true
	}
	var out []string
	for _, res := range resources {
		for _, ref := range ExtractRefs(res.Properties) {
			if !known[ptrRefToAddr(ref)] {
				out = append(out, ref)
			}
		}
		for _, dep := range res.DependsOn {
			if !known[dep] {
				out = append(out, dep)
			}
		}
	}
	return out
}

// ExtractRefs returns every ptr:// reference in a property value, whether the
// value is a bare reference or embeds one as ${ptr://...}.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, ir.RefScheme) {
			refs = append(refs, val)
			break
		}
		for _, m := range embeddedRef.FindAllStringSubmatch(val, -1) {
			refs = append(refs, m[1])
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case map[string]string:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []string:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

// ptrRefToAddr converts a ptr:// reference to a resource address.
// ptr://aws:EC2.Vpc/my-vpc/id -> aws:EC2.Vpc.my-vpc
func ptrRefToAddr(ref string) string {
	typ, name, _, ok := ir.ParseRef(ref)
	if !ok {
		return ""
	}
	return ir.Addr(typ, name)
}
