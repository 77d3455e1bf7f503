package construct

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeVpc             = "aws:EC2.Vpc"
	typeSubnet          = "aws:EC2.Subnet"
	typeInternetGateway = "aws:EC2.InternetGateway"
	typeRouteTable      = "aws:EC2.RouteTable"
)

// DefaultMaxAZs is the number of availability zones a network spans when
// MaxAZs is unset.
const DefaultMaxAZs = 2

type SubnetKind int

const (
	Isolated SubnetKind = iota
	Public
)

func (k SubnetKind) String() string {
	switch k {
	case Isolated:
		return "isolated"
	case Public:
		return "public"
	default:
		return fmt.Sprintf("SubnetKind(%d)", int(k))
	}
}

// SubnetGroup is one subnet per availability zone sharing a routing policy.
type SubnetGroup struct {
	Name string
	Kind SubnetKind
	Mask int
}

// DefaultSubnetGroups are used when NetworkProps.SubnetGroups is empty.
func DefaultSubnetGroups() []SubnetGroup {
	return []SubnetGroup{
		{Name: "private", Kind: Isolated, Mask: 24},
		{Name: "public", Kind: Public, Mask: 24},
	}
}

type NetworkProps struct {
	CIDR         string
	MaxAZs       int
	NatGateways  int
	SubnetGroups []SubnetGroup
}

// Subnet is one carved subnet in one zone.
type Subnet struct {
	Ref   Ref
	Zone  string
	Group string
	Kind  SubnetKind
	CIDR  netip.Prefix
}

// Network is a VPC with public and isolated subnet groups.
type Network struct {
	id      string
	vpc     Ref
	igw     Ref
	tables  map[SubnetKind]Ref
	zones   []string
	subnets []Subnet
	cidr    netip.Prefix
}

func NewNetwork(s *Stack, id string, props NetworkProps) (*Network, error) {
	if props.CIDR == "" {
		return nil, fmt.Errorf("network %s: cidr is required", id)
	}
	block, err := netip.ParsePrefix(props.CIDR)
	if err != nil || !block.Addr().Is4() {
		return nil, fmt.Errorf("network %s: invalid IPv4 cidr %q", id, props.CIDR)
	}
	block = block.Masked()
	if props.NatGateways != 0 {
		return nil, fmt.Errorf("network %s: nat gateways are not supported (got %d)", id, props.NatGateways)
	}
	maxAZs := props.MaxAZs
	if maxAZs == 0 {
		maxAZs = DefaultMaxAZs
	}
	if maxAZs < 0 {
		return nil, fmt.Errorf("network %s: maxAZs must be positive", id)
	}
	env := s.Env()
	if len(env.AvailabilityZones) < maxAZs {
		return nil, fmt.Errorf("network %s: %d availability zones requested, environment has %d",
			id, maxAZs, len(env.AvailabilityZones))
	}
	groups := props.SubnetGroups
	if len(groups) == 0 {
		groups = DefaultSubnetGroups()
	}

	n := &Network{
		id:     id,
		tables: make(map[SubnetKind]Ref),
		zones:  append([]string(nil), env.AvailabilityZones[:maxAZs]...),
		cidr:   block,
	}

	n.vpc, err = s.Add(&ir.Resource{
		Type: typeVpc,
		Name: id,
		Properties: map[string]any{
			"cidrBlock":          block.String(),
			"enableDnsHostnames": true,
			"enableDnsSupport":   true,
		},
	})
	if err != nil {
		return nil, err
	}

	carver := newCarver(block)
	for _, g := range groups {
		for i, zone := range n.zones {
			prefix, err := carver.next(g.Mask)
			if err != nil {
				return nil, fmt.Errorf("network %s: group %s: %w", id, g.Name, err)
			}
			ref, err := s.Add(&ir.Resource{
				Type: typeSubnet,
				Name: resourceName(id, g.Name, fmt.Sprintf("%d", i+1)),
				Properties: map[string]any{
					"vpcId":               n.vpc.Attr("id"),
					"cidrBlock":           prefix.String(),
					"availabilityZone":    zone,
					"mapPublicIpOnLaunch": g.Kind == Public,
				},
			})
			if err != nil {
				return nil, err
			}
			n.subnets = append(n.subnets, Subnet{Ref: ref, Zone: zone, Group: g.Name, Kind: g.Kind, CIDR: prefix})
		}
	}

	if err := n.addRouting(s); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) addRouting(s *Stack) error {
	var err error
	n.igw, err = s.Add(&ir.Resource{
		Type:       typeInternetGateway,
		Name:       n.id,
		Properties: map[string]any{"vpcId": n.vpc.Attr("id")},
	})
	if err != nil {
		return err
	}

	for _, kind := range []SubnetKind{Public, Isolated} {
		var ids []any
		for _, sub := range n.subnets {
			if sub.Kind == kind {
				ids = append(ids, sub.Ref.Attr("id"))
			}
		}
		if len(ids) == 0 {
			continue
		}
		routes := []any{}
		if kind == Public {
			routes = append(routes, map[string]any{
				"destinationCidrBlock": "0.0.0.0/0",
				"gatewayId":            n.igw.Attr("id"),
			})
		}
		ref, err := s.Add(&ir.Resource{
			Type: typeRouteTable,
			Name: resourceName(n.id, kind.String()),
			Properties: map[string]any{
				"vpcId":     n.vpc.Attr("id"),
				"routes":    routes,
				"subnetIds": ids,
			},
		})
		if err != nil {
			return err
		}
		n.tables[kind] = ref
	}
	return nil
}

func (n *Network) Vpc() Ref {
	return n.vpc
}

func (n *Network) InternetGateway() Ref {
	return n.igw
}

// RouteTable returns the route table shared by every subnet of kind.
func (n *Network) RouteTable(kind SubnetKind) (Ref, bool) {
	ref, ok := n.tables[kind]
	return ref, ok
}

func (n *Network) CIDR() netip.Prefix {
	return n.cidr
}

func (n *Network) Zones() []string {
	return append([]string(nil), n.zones...)
}

// Subnets returns every carved subnet in registration order.
func (n *Network) Subnets() []Subnet {
	return append([]Subnet(nil), n.subnets...)
}

type SubnetSelection struct {
	Kind     SubnetKind
	OnePerAZ bool
}

// SelectSubnets returns the subnets of one kind, optionally keeping only the
// first subnet in each zone.
func (n *Network) SelectSubnets(sel SubnetSelection) (SubnetSet, error) {
	var picked []Subnet
	seen := make(map[string]bool)
	for _, sub := range n.subnets {
		if sub.Kind != sel.Kind {
			continue
		}
		if sel.OnePerAZ {
			if seen[sub.Zone] {
				continue
			}
			seen[sub.Zone] = true
		}
		picked = append(picked, sub)
	}
	if len(picked) == 0 {
		return SubnetSet{}, fmt.Errorf("network %s has no %s subnets", n.id, sel.Kind)
	}
	return SubnetSet{kind: sel.Kind, network: n.vpc, subnets: picked}, nil
}

// SubnetSet is an immutable selection of subnets. Copies share nothing
// mutable with the network that produced them.
type SubnetSet struct {
	kind    SubnetKind
	network Ref
	subnets []Subnet
}

func (ss SubnetSet) Kind() SubnetKind { return ss.kind }
func (ss SubnetSet) Len() int         { return len(ss.subnets) }

// Vpc is the network the subnets belong to.
func (ss SubnetSet) Vpc() Ref { return ss.network }

func (ss SubnetSet) Refs() []Ref {
	out := make([]Ref, len(ss.subnets))
	for i, sub := range ss.subnets {
		out[i] = sub.Ref
	}
	return out
}

// IDs returns subnet id references ready to drop into resource properties.
func (ss SubnetSet) IDs() []any {
	out := make([]any, len(ss.subnets))
	for i, sub := range ss.subnets {
		out[i] = sub.Ref.Attr("id")
	}
	return out
}

func (ss SubnetSet) Zones() []string {
	out := make([]string, len(ss.subnets))
	for i, sub := range ss.subnets {
		out[i] = sub.Zone
	}
	return out
}

func (ss SubnetSet) Subnets() []Subnet {
	return append([]Subnet(nil), ss.subnets...)
}

// carver hands out consecutive, mask-aligned blocks of an IPv4 prefix.
type carver struct {
	start, end uint64 // end is exclusive
	cursor     uint64
	bits       int
}

func newCarver(block netip.Prefix) *carver {
	a := block.Addr().As4()
	start := uint64(binary.BigEndian.Uint32(a[:]))
	return &carver{
		start:  start,
		end:    start + 1<<(32-block.Bits()),
		cursor: start,
		bits:   block.Bits(),
	}
}

func (c *carver) next(mask int) (netip.Prefix, error) {
	if mask < c.bits || mask > 32 {
		return netip.Prefix{}, fmt.Errorf("%w: /%d inside /%d", ErrAddressSpace, mask, c.bits)
	}
	size := uint64(1) << (32 - mask)
	base := (c.cursor + size - 1) / size * size
	if base+size > c.end {
		return netip.Prefix{}, fmt.Errorf("%w: no /%d left", ErrAddressSpace, mask)
	}
	c.cursor = base + size

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(base))
	return netip.PrefixFrom(netip.AddrFrom4(b), mask), nil
}
