package construct

import (
	"fmt"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/picklr-io/appstack/internal/ir"
)

const typeInstance = "aws:EC2.Instance"

// AmazonLinuxParameter is the public SSM parameter holding the latest
// Amazon Linux 2023 AMI id.
const AmazonLinuxParameter = "/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"

const DefaultBastionInstanceType = string(ec2types.InstanceTypeT3Nano)

type BastionProps struct {
	Network      *Network
	InstanceType string
}

// Bastion is a small instance in a public subnet reachable only through
// Session Manager. It holds no database access until granted one.
type Bastion struct {
	stack *Stack

	Instance        Ref
	Group           Ref
	InstanceRole    Ref
	InstanceProfile Ref
}

func NewBastion(s *Stack, id string, props BastionProps) (*Bastion, error) {
	if props.Network == nil {
		return nil, fmt.Errorf("bastion %s: %w", id, ErrMissingNetwork)
	}
	if props.InstanceType == "" {
		props.InstanceType = DefaultBastionInstanceType
	}
	public, err := props.Network.SelectSubnets(SubnetSelection{Kind: Public})
	if err != nil {
		return nil, fmt.Errorf("bastion %s: %w", id, err)
	}

	b := &Bastion{stack: s}
	b.Group, err = addSecurityGroup(s, resourceName(id, "sg"), props.Network.Vpc(),
		fmt.Sprintf("Bastion host %s", id))
	if err != nil {
		return nil, err
	}
	b.InstanceRole, err = addRole(s, resourceName(id, "role"), "ec2.amazonaws.com", policySSMCore)
	if err != nil {
		return nil, err
	}
	b.InstanceProfile, err = s.Add(&ir.Resource{
		Type:       typeInstanceProfile,
		Name:       resourceName(id, "profile"),
		Properties: map[string]any{"roles": []any{b.InstanceRole.Attr("name")}},
	})
	if err != nil {
		return nil, err
	}
	b.Instance, err = s.Add(&ir.Resource{
		Type: typeInstance,
		Name: id,
		Properties: map[string]any{
			"imageParameter":     AmazonLinuxParameter,
			"instanceType":       props.InstanceType,
			"subnetId":           public.IDs()[0],
			"securityGroupIds":   []any{b.Group.Attr("id")},
			"iamInstanceProfile": b.InstanceProfile.Attr("name"),
		},
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bastion) SecurityGroup() (Ref, bool) {
	return b.Group, true
}

func (b *Bastion) Role() Ref {
	return b.InstanceRole
}

// TunnelCommand is the operator command that forwards localPort through the
// bastion to host:targetPort.
func (b *Bastion) TunnelCommand(host string, targetPort, localPort int) string {
	return fmt.Sprintf(
		`aws ssm start-session --target %s --document-name AWS-StartPortForwardingSessionToRemoteHost --parameters '{"host":["%s"],"portNumber":["%d"],"localPortNumber":["%d"]}'`,
		b.Instance.Interp("id"), host, targetPort, localPort)
}

// TunnelOutput registers TunnelCommand as a stack output.
func (b *Bastion) TunnelOutput(name, host string, targetPort, localPort int) error {
	return b.stack.Output(name, b.TunnelCommand(host, targetPort, localPort))
}
