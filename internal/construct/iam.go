package construct

import (
	"github.com/picklr-io/appstack/internal/ir"
)

const (
	typeRole            = "aws:IAM.Role"
	typeRolePolicy      = "aws:IAM.RolePolicy"
	typeInstanceProfile = "aws:IAM.InstanceProfile"
)

func addRole(s *Stack, name, service string, managed ...string) (Ref, error) {
	return s.Add(&ir.Resource{
		Type: typeRole,
		Name: name,
		Properties: map[string]any{
			"assumeRolePolicyDocument": trustPolicy(service),
			"managedPolicyArns":        toAny(managed),
		},
	})
}

// addRolePolicy attaches an inline policy to role. The policy name is
// derived from the role and the caller's key, so granting the same access
// twice registers one policy.
func addRolePolicy(s *Stack, role Ref, key string, doc map[string]any) (Ref, error) {
	name := resourceName(role.Name, key)
	return s.Add(&ir.Resource{
		Type: typeRolePolicy,
		Name: name,
		Properties: map[string]any{
			"roleName":       role.Attr("name"),
			"policyName":     name,
			"policyDocument": doc,
		},
	})
}

// grantSecretRead lets role read a secret's value.
func grantSecretRead(s *Stack, role Ref, secret Ref) error {
	_, err := addRolePolicy(s, role, "read-"+secret.Name,
		allowPolicy(secret.Attr("arn"), "secretsmanager:GetSecretValue", "secretsmanager:DescribeSecret"))
	return err
}
