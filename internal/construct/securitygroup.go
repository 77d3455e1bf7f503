package construct

import (
	"fmt"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeSecurityGroup        = "aws:EC2.SecurityGroup"
	typeSecurityGroupIngress = "aws:EC2.SecurityGroupIngress"
)

// anyIPv4 is the CIDR for ingress open to the internet.
const anyIPv4 = "0.0.0.0/0"

const ingressProtocol = string(ec2types.ProtocolTcp)

func addSecurityGroup(s *Stack, name string, vpc Ref, description string, ingress ...map[string]any) (Ref, error) {
	rules := make([]any, len(ingress))
	for i, r := range ingress {
		rules[i] = r
	}
	return s.Add(&ir.Resource{
		Type: typeSecurityGroup,
		Name: name,
		Properties: map[string]any{
			"vpcId":            vpc.Attr("id"),
			"groupName":        name,
			"description":      description,
			"ingress":          rules,
			"allowAllOutbound": true,
		},
	})
}

func cidrIngress(cidr string, port int) map[string]any {
	return map[string]any{
		"ipProtocol": ingressProtocol,
		"fromPort":   port,
		"toPort":     port,
		"cidrIp":     cidr,
	}
}

// AccessRule is one granted reachability path into a security group.
type AccessRule struct {
	Ref    Ref
	Port   int
	Source Ref
}

// allowIngress emits a standalone rule letting src reach target on port.
// The rule name is derived from both groups and the port, so it is
// registered once however many times it is requested.
func allowIngress(s *Stack, target Ref, src Connectable, port int) (AccessRule, error) {
	srcGroup, ok := src.SecurityGroup()
	if !ok {
		return AccessRule{}, fmt.Errorf("allow %s on %d: %w", target.Name, port, ErrNotConnectable)
	}
	ref, err := s.Add(&ir.Resource{
		Type: typeSecurityGroupIngress,
		Name: fmt.Sprintf("%s-from-%s-%d", target.Name, srcGroup.Name, port),
		Properties: map[string]any{
			"groupId":               target.Attr("id"),
			"sourceSecurityGroupId": srcGroup.Attr("id"),
			"ipProtocol":            ingressProtocol,
			"fromPort":              port,
			"toPort":                port,
		},
	})
	if err != nil {
		return AccessRule{}, err
	}
	return AccessRule{Ref: ref, Port: port, Source: srcGroup}, nil
}
