package fabric

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/aidenforge/controlplane/pkg/ctlerrors"
)

// AWSAdapter implements Adapter against ECS (services, task definitions)
// and ELBv2 (target groups, listener rules).
type AWSAdapter struct {
	ecs *ecs.Client
	elb *elasticloadbalancingv2.Client
	sts *sts.Client
}

// NewAWSAdapter loads AWS credentials the standard way (env, shared config,
// instance role) optionally assuming assumeRoleARN, and builds the clients
// the saga needs.
func NewAWSAdapter(ctx context.Context, region, assumeRoleARN string) (*AWSAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	stsClient := sts.NewFromConfig(cfg)

	if assumeRoleARN != "" {
		out, err := stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(assumeRoleARN),
			RoleSessionName: aws.String("controlplane-fabric"),
		})
		if err != nil {
			return nil, fmt.Errorf("assuming role %s: %w", assumeRoleARN, err)
		}
		cfg.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			creds := out.Credentials
			return aws.Credentials{
				AccessKeyID:     aws.ToString(creds.AccessKeyId),
				SecretAccessKey: aws.ToString(creds.SecretAccessKey),
				SessionToken:    aws.ToString(creds.SessionToken),
				Expires:         aws.ToTime(creds.Expiration),
				CanExpire:       true,
			}, nil
		})
	}

	return &AWSAdapter{
		ecs: ecs.NewFromConfig(cfg),
		elb: elasticloadbalancingv2.NewFromConfig(cfg),
		sts: stsClient,
	}, nil
}

func (a *AWSAdapter) CreateTargetGroup(ctx context.Context, name, vpcID, healthPath string) (string, error) {
	out, err := a.elb.CreateTargetGroup(ctx, &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:                       aws.String(name),
		VpcId:                      aws.String(vpcID),
		Protocol:                   elbtypes.ProtocolEnumHttp,
		Port:                       aws.Int32(80),
		TargetType:                 elbtypes.TargetTypeEnumIp,
		HealthCheckEnabled:         aws.Bool(true),
		HealthCheckPath:            aws.String(healthPath),
		HealthCheckIntervalSeconds: aws.Int32(30),
	})
	if err != nil {
		return "", &ctlerrors.FabricError{Op: "CreateTargetGroup", Cause: err}
	}
	if len(out.TargetGroups) == 0 {
		return "", &ctlerrors.FabricError{Op: "CreateTargetGroup", Cause: fmt.Errorf("no target group returned")}
	}
	return aws.ToString(out.TargetGroups[0].TargetGroupArn), nil
}

func (a *AWSAdapter) DeleteTargetGroup(ctx context.Context, handle string) error {
	_, err := a.elb.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: aws.String(handle),
	})
	if err != nil {
		return &ctlerrors.FabricError{Op: "DeleteTargetGroup", Cause: err}
	}
	return nil
}

func (a *AWSAdapter) CreateListenerRules(ctx context.Context, httpListenerARN, httpsListenerARN, hostPattern, tgHandle string, priority int) (string, string, error) {
	httpOut, err := a.elb.CreateRule(ctx, &elasticloadbalancingv2.CreateRuleInput{
		ListenerArn: aws.String(httpListenerARN),
		Priority:    aws.Int32(int32(priority)),
		Conditions: []elbtypes.RuleCondition{
			{Field: aws.String("host-header"), HostHeaderConfig: &elbtypes.HostHeaderConditionConfig{Values: []string{hostPattern}}},
		},
		Actions: []elbtypes.Action{
			{
				Type: elbtypes.ActionTypeEnumRedirect,
				RedirectConfig: &elbtypes.RedirectActionConfig{
					Protocol:   aws.String("HTTPS"),
					Port:       aws.String("443"),
					StatusCode: elbtypes.RedirectActionStatusCodeEnumHttp301,
				},
			},
		},
	})
	if err != nil {
		return "", "", &ctlerrors.FabricError{Op: "CreateListenerRules(http)", Cause: err}
	}

	httpsOut, err := a.elb.CreateRule(ctx, &elasticloadbalancingv2.CreateRuleInput{
		ListenerArn: aws.String(httpsListenerARN),
		Priority:    aws.Int32(int32(priority)),
		Conditions: []elbtypes.RuleCondition{
			{Field: aws.String("host-header"), HostHeaderConfig: &elbtypes.HostHeaderConditionConfig{Values: []string{hostPattern}}},
		},
		Actions: []elbtypes.Action{
			{Type: elbtypes.ActionTypeEnumForward, TargetGroupArn: aws.String(tgHandle)},
		},
	})
	if err != nil {
		// Best-effort cleanup of the HTTP rule already created.
		_, _ = a.elb.DeleteRule(ctx, &elasticloadbalancingv2.DeleteRuleInput{RuleArn: httpOut.Rules[0].RuleArn})
		return "", "", &ctlerrors.FabricError{Op: "CreateListenerRules(https)", Cause: err}
	}

	return aws.ToString(httpOut.Rules[0].RuleArn), aws.ToString(httpsOut.Rules[0].RuleArn), nil
}

func (a *AWSAdapter) DeleteRule(ctx context.Context, handle string) error {
	_, err := a.elb.DeleteRule(ctx, &elasticloadbalancingv2.DeleteRuleInput{RuleArn: aws.String(handle)})
	if err != nil {
		return &ctlerrors.FabricError{Op: "DeleteRule", Cause: err}
	}
	return nil
}

func (a *AWSAdapter) LatestTaskDefinitionRevision(ctx context.Context, family string) (int, error) {
	out, err := a.ecs.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(family),
	})
	if err != nil {
		return 0, &ctlerrors.FabricError{Op: "LatestTaskDefinitionRevision", Cause: err}
	}
	return int(out.TaskDefinition.Revision), nil
}

func (a *AWSAdapter) CreateService(ctx context.Context, cluster, name, taskDefinitionFamily string, securityGroups, subnets []string, tgHandle string) (string, error) {
	out, err := a.ecs.CreateService(ctx, &ecs.CreateServiceInput{
		Cluster:        aws.String(cluster),
		ServiceName:    aws.String(name),
		TaskDefinition: aws.String(taskDefinitionFamily),
		DesiredCount:   aws.Int32(1),
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        subnets,
				SecurityGroups: securityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		LoadBalancers: []ecstypes.LoadBalancer{
			{TargetGroupArn: aws.String(tgHandle), ContainerName: aws.String(name), ContainerPort: aws.Int32(80)},
		},
	})
	if err != nil {
		return "", &ctlerrors.FabricError{Op: "CreateService", Cause: err}
	}
	return aws.ToString(out.Service.ServiceArn), nil
}

func (a *AWSAdapter) ForceRedeploy(ctx context.Context, cluster, serviceName, taskDefinition string) (string, error) {
	out, err := a.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(cluster),
		Service:            aws.String(serviceName),
		TaskDefinition:     aws.String(taskDefinition),
		ForceNewDeployment: true,
	})
	if err != nil {
		return "", &ctlerrors.FabricError{Op: "ForceRedeploy", Cause: err}
	}
	return aws.ToString(out.Service.ServiceArn), nil
}

func (a *AWSAdapter) DescribeServiceActiveDeployment(ctx context.Context, cluster, name string) (string, bool, error) {
	out, err := a.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{name},
	})
	if err != nil {
		return "", false, &ctlerrors.FabricError{Op: "DescribeServiceActiveDeployment", Cause: err}
	}
	if len(out.Services) == 0 {
		return "", false, nil
	}
	for _, d := range out.Services[0].Deployments {
		if d.RolloutState == ecstypes.DeploymentRolloutStateInProgress {
			return aws.ToString(d.Id), true, nil
		}
	}
	return "", false, nil
}

func (a *AWSAdapter) DeleteService(ctx context.Context, cluster, name string) error {
	_, err := a.ecs.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: aws.String(cluster),
		Service: aws.String(name),
		Force:   aws.Bool(true),
	})
	if err != nil {
		return &ctlerrors.FabricError{Op: "DeleteService", Cause: err}
	}
	return nil
}

func (a *AWSAdapter) WaitServicesInactive(ctx context.Context, cluster, name string) error {
	waiter := ecs.NewServicesInactiveWaiter(a.ecs)
	err := waiter.Wait(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{name},
	}, 5*time.Minute)
	if err != nil {
		return &ctlerrors.FabricError{Op: "WaitServicesInactive", Cause: err}
	}
	return nil
}

var _ Adapter = (*AWSAdapter)(nil)
