// Package fabric wraps the external container-service and L7-load-balancer
// APIs that the runtime lifecycle saga provisions against. Every operation
// is a named verb with explicit inputs and no hidden retries; failures are
// wrapped uniformly in ctlerrors.FabricError.
package fabric

import "context"

// Adapter is the cloud fabric surface the runtime lifecycle saga depends on.
// The only implementation wired into the control plane is AWS ECS + ELBv2
// (see aws.go); the interface exists so saga and reconciler code can be
// exercised against a fake in tests.
type Adapter interface {
	CreateTargetGroup(ctx context.Context, name, vpcID, healthPath string) (string, error)
	DeleteTargetGroup(ctx context.Context, handle string) error

	CreateListenerRules(ctx context.Context, httpListenerARN, httpsListenerARN, hostPattern, tgHandle string, priority int) (httpRuleHandle, httpsRuleHandle string, err error)
	DeleteRule(ctx context.Context, handle string) error

	LatestTaskDefinitionRevision(ctx context.Context, family string) (int, error)
	CreateService(ctx context.Context, cluster, name, taskDefinitionFamily string, securityGroups, subnets []string, tgHandle string) (string, error)
	ForceRedeploy(ctx context.Context, cluster, serviceName, taskDefinition string) (string, error)
	DescribeServiceActiveDeployment(ctx context.Context, cluster, name string) (deploymentID string, found bool, err error)
	DeleteService(ctx context.Context, cluster, name string) error
	WaitServicesInactive(ctx context.Context, cluster, name string) error
}
