package aws

// Resource types this provider manages.
const (
	typeVpc                  = "aws:EC2.Vpc"
	typeSubnet               = "aws:EC2.Subnet"
	typeInternetGateway      = "aws:EC2.InternetGateway"
	typeRouteTable           = "aws:EC2.RouteTable"
	typeSecurityGroup        = "aws:EC2.SecurityGroup"
	typeSecurityGroupIngress = "aws:EC2.SecurityGroupIngress"
	typeInstance             = "aws:EC2.Instance"

	typeRole            = "aws:IAM.Role"
	typeRolePolicy      = "aws:IAM.RolePolicy"
	typeInstanceProfile = "aws:IAM.InstanceProfile"

	typeDBSubnetGroup = "aws:RDS.DBSubnetGroup"
	typeDBInstance    = "aws:RDS.Instance"

	typeSecret                 = "aws:SecretsManager.Secret"
	typeSecretTargetAttachment = "aws:SecretsManager.SecretTargetAttachment"

	typeQueue = "aws:SQS.Queue"

	typeFunction           = "aws:Lambda.Function"
	typeEventSourceMapping = "aws:Lambda.EventSourceMapping"

	typeCluster        = "aws:ECS.Cluster"
	typeTaskDefinition = "aws:ECS.TaskDefinition"
	typeECSService     = "aws:ECS.Service"

	typeLoadBalancer = "aws:ELB.LoadBalancer"
	typeTargetGroup  = "aws:ELB.TargetGroup"
	typeListener     = "aws:ELB.Listener"

	typeVpcConnector     = "aws:AppRunner.VpcConnector"
	typeAppRunnerService = "aws:AppRunner.Service"
)

// Types returns every resource type the provider can apply.
func Types() []string {
	return []string{
		typeVpc, typeSubnet, typeInternetGateway, typeRouteTable,
		typeSecurityGroup, typeSecurityGroupIngress, typeInstance,
		typeRole, typeRolePolicy, typeInstanceProfile,
		typeDBSubnetGroup, typeDBInstance,
		typeSecret, typeSecretTargetAttachment,
		typeQueue,
		typeFunction, typeEventSourceMapping,
		typeCluster, typeTaskDefinition, typeECSService,
		typeLoadBalancer, typeTargetGroup, typeListener,
		typeVpcConnector, typeAppRunnerService,
	}
}
