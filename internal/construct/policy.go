package construct

const policyVersion = "2012-10-17"

// Managed policies attached to service roles.
const (
	policySSMCore          = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"
	policyLambdaBasic      = "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
	policyLambdaVPC        = "arn:aws:iam::aws:policy/service-role/AWSLambdaVPCAccessExecutionRole"
	policyECSTaskExecution = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
)

func trustPolicy(service string) map[string]any {
	return map[string]any{
		"Version": policyVersion,
		"Statement": []any{
			map[string]any{
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": service},
				"Action":    "sts:AssumeRole",
			},
		},
	}
}

func allowPolicy(resource string, actions ...string) map[string]any {
	acts := make([]any, len(actions))
	for i, a := range actions {
		acts[i] = a
	}
	return map[string]any{
		"Version": policyVersion,
		"Statement": []any{
			map[string]any{
				"Effect":   "Allow",
				"Action":   acts,
				"Resource": resource,
			},
		},
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
