package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aidenforge/controlplane/pkg/agent"
	"github.com/aidenforge/controlplane/pkg/ctlerrors"
	"github.com/aidenforge/controlplane/pkg/rtctl"
	"github.com/aidenforge/controlplane/pkg/tasks"
)

// maxAgentsPerOwner is the admission cap for non-admin owners. Admins bypass
// it entirely.
const maxAgentsPerOwner = 1

// CreateAgent inserts the Agent row after checking the per-owner admission
// cap. isAdmin bypasses the cap.
func (s *Service) CreateAgent(ctx context.Context, ownerID uuid.UUID, isAdmin bool, characterJSON json.RawMessage, envBundle map[string]string) (*agent.Agent, error) {
	if !isAdmin {
		n, err := s.Agents.CountByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if n >= maxAgentsPerOwner {
			return nil, &ctlerrors.ConflictError{Reason: fmt.Sprintf("owner already has %d agent(s), the maximum allowed", n)}
		}
	}
	return s.Agents.Create(ctx, ownerID, characterJSON, envBundle)
}

// RuntimeLifecycleInFlight reports whether the shared single-flight guard
// for a runtime is currently held: whether the most recent task of any kind
// recorded against it, AgentStart included, is still pending or running.
func (s *Service) RuntimeLifecycleInFlight(ctx context.Context, runtimeID uuid.UUID) (bool, error) {
	status, found, err := s.Tasks.LatestStatusByRuntime(ctx, runtimeID)
	if err != nil {
		return false, err
	}
	return found && status.InFlight(), nil
}

// AgentStartInFlight reports whether an AgentStart task for agentID is
// currently pending or running.
func (s *Service) AgentStartInFlight(ctx context.Context, agentID uuid.UUID) (bool, error) {
	status, found, err := s.Tasks.LatestStatusByKindAndAgent(ctx, tasks.KindAgentStart, agentID)
	if err != nil {
		return false, err
	}
	return found && status.InFlight(), nil
}

// StartAgent submits the AgentStart task binding agentID into runtimeID.
// Callers must check AgentStartInFlight and RuntimeLifecycleInFlight first.
func (s *Service) StartAgent(ctx context.Context, agentID, runtimeID uuid.UUID) (uuid.UUID, error) {
	return s.Engine.Submit(ctx, tasks.KindAgentStart, &runtimeID, &agentID, map[string]any{
		"agent_id":   agentID,
		"runtime_id": runtimeID,
	})
}

// runStartAgent is the AgentStart task body: bind the agent's character into
// a runtime's controller and poll until it reports running.
func (s *Service) runStartAgent(ctx context.Context, rec tasks.Record) error {
	var payload struct {
		AgentID   uuid.UUID `json:"agent_id"`
		RuntimeID uuid.UUID `json:"runtime_id"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("decoding AgentStart payload: %w", err)
	}

	a, err := s.Agents.Get(ctx, payload.AgentID)
	if err != nil {
		return err
	}
	rt, err := s.Runtimes.Get(ctx, payload.RuntimeID)
	if err != nil {
		return err
	}

	if err := s.Ctl.CharacterStop(ctx, rt.URL); err != nil {
		return fmt.Errorf("stopping prior character: %w", err)
	}
	if err := s.Agents.BindRuntimeDetach(ctx, rt.ID); err != nil {
		return err
	}

	req := rtctl.StartRequest{CharacterJSON: a.CharacterJSON, Envs: a.EnvBundle}
	if err := s.Ctl.CharacterStart(ctx, rt.URL, req); err != nil {
		return fmt.Errorf("requesting character start: %w", err)
	}

	var externalAgentID *string
	for attempt := 1; attempt <= agentPollAttempts; attempt++ {
		status, err := s.Ctl.CharacterStatusOf(ctx, rt.URL)
		if err == nil && status.Running {
			externalAgentID = status.AgentID
			break
		}
		if attempt == agentPollAttempts {
			return &ctlerrors.TimeoutError{Phase: "StartAgent: character status poll", Budget: agentPollAttempts}
		}
		if err := sleepCtx(ctx, agentPollInterval); err != nil {
			return err
		}
	}

	if err := s.Agents.BindRuntime(ctx, a.ID, &rt.ID, externalAgentID); err != nil {
		return err
	}
	if s.Metrics.AgentsStarted != nil {
		s.Metrics.AgentsStarted.Inc()
	}
	return nil
}

// StopAgent synchronously asks the bound runtime's controller to stop the
// character, then detaches the agent. Unlike start/create/update/delete this
// has no poll budget: CharacterStop is defined to be idempotent and fast.
// An agent with no bound runtime yields a NotFoundError.
func (s *Service) StopAgent(ctx context.Context, agentID uuid.UUID) error {
	a, err := s.Agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if !a.Bound() {
		return &ctlerrors.NotFoundError{Entity: "agent runtime binding", ID: agentID.String()}
	}
	rt, err := s.Runtimes.Get(ctx, *a.RuntimeID)
	if err != nil {
		if _, ok := err.(*ctlerrors.NotFoundError); ok {
			return s.Agents.BindRuntime(ctx, agentID, nil, nil)
		}
		return err
	}
	if err := s.Ctl.CharacterStop(ctx, rt.URL); err != nil {
		return fmt.Errorf("requesting character stop: %w", err)
	}
	return s.Agents.BindRuntime(ctx, agentID, nil, nil)
}

// StartAgentWithoutRuntime grows the idle runtime pool by Increment when an
// agent needs binding but no unused runtime exists yet. It only submits the
// CreateRuntime tasks; the caller is expected to retry StartAgent once one
// of them converges.
func (s *Service) StartAgentWithoutRuntime(ctx context.Context) ([]uuid.UUID, error) {
	taskIDs := make([]uuid.UUID, 0, s.Pool.Increment)
	for i := 0; i < s.Pool.Increment; i++ {
		taskID, _, err := s.CreateRuntime(ctx)
		if err != nil {
			return taskIDs, err
		}
		taskIDs = append(taskIDs, taskID)
	}
	return taskIDs, nil
}

// StartAgentFromPool binds agentID to the first started, unbound runtime it
// finds. If the pool is empty it grows the pool by Increment and returns
// PoolEmptyError so the caller can retry shortly.
func (s *Service) StartAgentFromPool(ctx context.Context, agentID uuid.UUID) (uuid.UUID, error) {
	idle, err := s.Runtimes.List(ctx, true)
	if err != nil {
		return uuid.Nil, err
	}
	for _, rt := range idle {
		if !rt.Started {
			continue
		}
		inFlight, err := s.RuntimeLifecycleInFlight(ctx, rt.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if inFlight {
			continue
		}
		return s.StartAgent(ctx, agentID, rt.ID)
	}

	if _, err := s.StartAgentWithoutRuntime(ctx); err != nil {
		return uuid.Nil, err
	}
	return uuid.Nil, &ctlerrors.PoolEmptyError{}
}
