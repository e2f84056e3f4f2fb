package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aidenforge/controlplane/pkg/ctlerrors"
	"github.com/aidenforge/controlplane/pkg/tasks"
)

// CreateRuntime allocates a service number, inserts the Runtime row (so it's
// immediately visible to callers with its derived URL), and submits the
// RuntimeCreate saga. The allocator runs here, on the submit path, not
// inside the worker — see the design's service-number allocator note.
func (s *Service) CreateRuntime(ctx context.Context) (taskID uuid.UUID, runtimeID uuid.UUID, err error) {
	runtimeID = uuid.New()
	for {
		serviceNo, err := s.Runtimes.NextFreeServiceNo(ctx)
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		_, err = s.Runtimes.Create(ctx, runtimeID, serviceNo, s.runtimeURL(serviceNo))
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the allocator race on UNIQUE(service_no); allocate again.
			continue
		}
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		break
	}

	taskID, err = s.Engine.Submit(ctx, tasks.KindRuntimeCreate, &runtimeID, nil, map[string]any{"runtime_id": runtimeID})
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return taskID, runtimeID, nil
}

func (s *Service) runtimeURL(serviceNo int) string {
	subdomain := fmt.Sprintf(s.Cfg.SubdomainTemplate, serviceNo)
	return fmt.Sprintf("https://%s.%s", subdomain, s.Cfg.Host)
}

func (s *Service) hostPattern(serviceNo int) string {
	subdomain := fmt.Sprintf(s.Cfg.SubdomainTemplate, serviceNo)
	return fmt.Sprintf("%s.%s", subdomain, s.Cfg.Host)
}

// runCreateRuntime is the RuntimeCreate task body: the provisioning saga.
// Each step persists its handle before the next begins so DeleteRuntime can
// always release exactly what was allocated, including on a partial failure
// of this very call.
func (s *Service) runCreateRuntime(ctx context.Context, rec tasks.Record) error {
	var payload struct {
		RuntimeID uuid.UUID `json:"runtime_id"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("decoding RuntimeCreate payload: %w", err)
	}
	runtimeID := payload.RuntimeID

	rt, err := s.Runtimes.Get(ctx, runtimeID)
	if err != nil {
		return err
	}

	if rt.Started {
		// Already converged by a previous execution of this task body.
		return nil
	}

	if err := s.provisionRuntime(ctx, rt.ID, rt.ServiceNo, rt.URL); err != nil {
		s.Logger.Error("runtime creation failed, rolling back", "runtime_id", runtimeID, "error", err)
		if s.Metrics.RuntimesCreateFailed != nil {
			s.Metrics.RuntimesCreateFailed.Inc()
		}
		if delErr := s.deleteRuntime(ctx, runtimeID); delErr != nil {
			s.Logger.Error("rollback after failed creation also failed", "runtime_id", runtimeID, "error", delErr)
		}
		return err
	}

	if s.Metrics.RuntimesCreated != nil {
		s.Metrics.RuntimesCreated.Inc()
	}
	return nil
}

func (s *Service) provisionRuntime(ctx context.Context, runtimeID uuid.UUID, serviceNo int, url string) error {
	name := fmt.Sprintf("runtime-%d", serviceNo)

	tgHandle, err := s.Fabric.CreateTargetGroup(ctx, name, s.Cfg.VPCID, "/ping")
	if err != nil {
		return err
	}
	if err := s.Runtimes.SetHandle(ctx, runtimeID, "target_group_handle", tgHandle); err != nil {
		return err
	}

	priority := 100 + 10*serviceNo
	httpRule, httpsRule, err := s.Fabric.CreateListenerRules(ctx, s.Cfg.HTTPListenerARN, s.Cfg.HTTPSListenerARN, s.hostPattern(serviceNo), tgHandle, priority)
	if err != nil {
		return err
	}
	if err := s.Runtimes.SetHandle(ctx, runtimeID, "http_rule_handle", httpRule); err != nil {
		return err
	}
	if err := s.Runtimes.SetHandle(ctx, runtimeID, "https_rule_handle", httpsRule); err != nil {
		return err
	}

	svcHandle, err := s.Fabric.CreateService(ctx, s.Cfg.Cluster, name, s.Cfg.TaskDefinitionARN, s.Cfg.SecurityGroups, s.Cfg.Subnets, tgHandle)
	if err != nil {
		return err
	}
	if err := s.Runtimes.SetHandle(ctx, runtimeID, "service_handle", svcHandle); err != nil {
		return err
	}

	for attempt := 1; attempt <= createPollAttempts; attempt++ {
		if err := s.Ctl.ControllerPing(ctx, url); err == nil {
			return s.Runtimes.SetStarted(ctx, runtimeID, true)
		}
		if attempt == createPollAttempts {
			break
		}
		if err := sleepCtx(ctx, createPollInterval); err != nil {
			return err
		}
	}

	return &ctlerrors.TimeoutError{Phase: "CreateRuntime: controller ping", Budget: createPollAttempts}
}

// DeleteRuntime submits the RuntimeDelete task.
func (s *Service) DeleteRuntime(ctx context.Context, runtimeID uuid.UUID) (uuid.UUID, error) {
	return s.Engine.Submit(ctx, tasks.KindRuntimeDelete, &runtimeID, nil, map[string]any{"runtime_id": runtimeID})
}

func (s *Service) runDeleteRuntime(ctx context.Context, rec tasks.Record) error {
	var payload struct {
		RuntimeID uuid.UUID `json:"runtime_id"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("decoding RuntimeDelete payload: %w", err)
	}
	return s.deleteRuntime(ctx, payload.RuntimeID)
}

// deleteRuntime releases exactly the handles that were persisted, in
// reverse dependency order, then removes the row. Failures are logged and
// swallowed so a partially-provisioned runtime can always be reclaimed.
func (s *Service) deleteRuntime(ctx context.Context, runtimeID uuid.UUID) error {
	rt, err := s.Runtimes.Get(ctx, runtimeID)
	if err != nil {
		if _, ok := err.(*ctlerrors.NotFoundError); ok {
			return nil
		}
		return err
	}

	if rt.ServiceHandle != nil {
		name := fmt.Sprintf("runtime-%d", rt.ServiceNo)
		if err := s.Fabric.DeleteService(ctx, s.Cfg.Cluster, name); err != nil {
			s.Logger.Error("deleting service", "runtime_id", runtimeID, "error", err)
		} else if err := s.Fabric.WaitServicesInactive(ctx, s.Cfg.Cluster, name); err != nil {
			s.Logger.Error("waiting for service inactive", "runtime_id", runtimeID, "error", err)
		}
	}
	if rt.HTTPRuleHandle != nil {
		if err := s.Fabric.DeleteRule(ctx, *rt.HTTPRuleHandle); err != nil {
			s.Logger.Error("deleting http rule", "runtime_id", runtimeID, "error", err)
		}
	}
	if rt.HTTPSRuleHandle != nil {
		if err := s.Fabric.DeleteRule(ctx, *rt.HTTPSRuleHandle); err != nil {
			s.Logger.Error("deleting https rule", "runtime_id", runtimeID, "error", err)
		}
	}
	if rt.TargetGroupHandle != nil {
		if err := s.Fabric.DeleteTargetGroup(ctx, *rt.TargetGroupHandle); err != nil {
			s.Logger.Error("deleting target group", "runtime_id", runtimeID, "error", err)
		}
	}

	if err := s.Runtimes.Delete(ctx, runtimeID); err != nil {
		return err
	}
	if s.Metrics.RuntimesDeleted != nil {
		s.Metrics.RuntimesDeleted.Inc()
	}
	return nil
}

// UpdateRuntime submits the RuntimeUpdate task: a zero-downtime (from the
// fabric's POV) task-definition roll.
func (s *Service) UpdateRuntime(ctx context.Context, runtimeID uuid.UUID) (uuid.UUID, error) {
	return s.Engine.Submit(ctx, tasks.KindRuntimeUpdate, &runtimeID, nil, map[string]any{"runtime_id": runtimeID})
}

func (s *Service) runUpdateRuntime(ctx context.Context, rec tasks.Record) error {
	var payload struct {
		RuntimeID uuid.UUID `json:"runtime_id"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("decoding RuntimeUpdate payload: %w", err)
	}
	runtimeID := payload.RuntimeID

	rt, err := s.Runtimes.Get(ctx, runtimeID)
	if err != nil {
		return err
	}

	boundAgent, err := s.Agents.GetByRuntime(ctx, runtimeID)
	if err != nil {
		return err
	}

	if err := s.rollRuntime(ctx, rt.ID, rt.ServiceNo, rt.URL); err != nil {
		s.Logger.Error("runtime update failed, tearing down", "runtime_id", runtimeID, "error", err)
		if _, delErr := s.DeleteRuntime(ctx, runtimeID); delErr != nil {
			s.Logger.Error("enqueueing delete after failed update also failed", "runtime_id", runtimeID, "error", delErr)
		}
		return err
	}

	if boundAgent != nil {
		if _, err := s.StartAgent(ctx, boundAgent.ID, runtimeID); err != nil {
			s.Logger.Error("re-starting agent after update", "agent_id", boundAgent.ID, "runtime_id", runtimeID, "error", err)
		}
	}
	return nil
}

func (s *Service) rollRuntime(ctx context.Context, runtimeID uuid.UUID, serviceNo int, url string) error {
	name := fmt.Sprintf("runtime-%d", serviceNo)

	revision, err := s.Fabric.LatestTaskDefinitionRevision(ctx, s.Cfg.TaskDefinitionARN)
	if err != nil {
		return err
	}

	if err := s.Agents.BindRuntimeDetach(ctx, runtimeID); err != nil {
		return err
	}
	if err := s.Runtimes.SetStarted(ctx, runtimeID, false); err != nil {
		return err
	}

	taskDef := fmt.Sprintf("%s:%d", s.Cfg.TaskDefinitionARN, revision)
	if _, err := s.Fabric.ForceRedeploy(ctx, s.Cfg.Cluster, name, taskDef); err != nil {
		return err
	}

	for attempt := 1; attempt <= updatePollAttempts; attempt++ {
		_, active, err := s.Fabric.DescribeServiceActiveDeployment(ctx, s.Cfg.Cluster, name)
		if err == nil && !active {
			break
		}
		if attempt == updatePollAttempts {
			return &ctlerrors.TimeoutError{Phase: "UpdateRuntime: deployment stabilization", Budget: updatePollAttempts}
		}
		if err := sleepCtx(ctx, updatePollInterval); err != nil {
			return err
		}
	}

	for attempt := 1; attempt <= updatePollAttempts; attempt++ {
		if err := s.Ctl.Ping(ctx, url); err == nil {
			return s.Runtimes.SetStarted(ctx, runtimeID, true)
		}
		if attempt == updatePollAttempts {
			break
		}
		if err := sleepCtx(ctx, updatePollInterval); err != nil {
			return err
		}
	}

	return &ctlerrors.TimeoutError{Phase: "UpdateRuntime: ping", Budget: updatePollAttempts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
