// Package reconciler periodically checks every runtime's liveness and every
// running agent's identity against what the controller inside its runtime
// actually reports, escalating or re-converging on drift. Modeled on the
// ticker-driven background loop used elsewhere in this codebase for
// periodic fan-out work.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aidenforge/controlplane/pkg/agent"
	"github.com/aidenforge/controlplane/pkg/lifecycle"
	"github.com/aidenforge/controlplane/pkg/rtctl"
	"github.com/aidenforge/controlplane/pkg/runtime"
)

const (
	tickInterval    = 300 * time.Second
	updateThreshold = 3
	deleteThreshold = 5
)

// Reconciler is the periodic health/drift checker.
type Reconciler struct {
	Runtimes  *runtime.Store
	Agents    *agent.Store
	Lifecycle *lifecycle.Service
	Ctl       *rtctl.Client
	Logger    *slog.Logger
	Metric    *prometheus.CounterVec // controlplane_reconciler_healthchecks_failed_total{outcome}: success or failure
}

// Run starts the reconciler loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Logger.Info("health reconciler started", "interval", tickInterval)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("health reconciler stopped")
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.Logger.Error("reconciler tick", "error", err)
			}
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) error {
	ids, err := r.Runtimes.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.HealthcheckRuntime(ctx, id); err != nil {
			r.Logger.Error("healthchecking runtime", "runtime_id", id, "error", err)
		}
	}
	return nil
}

// HealthcheckRuntime probes one runtime's liveness and escalates failures.
// It first checks the concurrency guard: a runtime with an in-flight
// lifecycle task is skipped, since a create/update/delete saga already owns
// its state this cycle.
func (r *Reconciler) HealthcheckRuntime(ctx context.Context, runtimeID uuid.UUID) error {
	inFlight, err := r.Lifecycle.RuntimeLifecycleInFlight(ctx, runtimeID)
	if err != nil {
		return err
	}
	if inFlight {
		r.Logger.Debug("skipping healthcheck, lifecycle task in flight", "runtime_id", runtimeID)
		return nil
	}

	rt, err := r.Runtimes.Get(ctx, runtimeID)
	if err != nil {
		return err
	}

	live := r.Ctl.Ping(ctx, rt.URL) == nil && r.Ctl.ControllerPing(ctx, rt.URL) == nil

	if live {
		if r.Metric != nil {
			r.Metric.WithLabelValues("success").Inc()
		}
		if err := r.Runtimes.RecordHealthcheckSuccess(ctx, runtimeID); err != nil {
			return err
		}
		return r.checkAgentDrift(ctx, rt)
	}

	if r.Metric != nil {
		r.Metric.WithLabelValues("failure").Inc()
	}
	failures, err := r.Runtimes.IncrementFailedHealthchecks(ctx, runtimeID)
	if err != nil {
		return err
	}

	r.Logger.Warn("runtime failed healthcheck", "runtime_id", runtimeID, "consecutive_failures", failures)

	switch {
	case failures > deleteThreshold:
		r.Logger.Error("runtime exceeded delete threshold, tearing down", "runtime_id", runtimeID, "failures", failures)
		_, err := r.Lifecycle.DeleteRuntime(ctx, runtimeID)
		return err
	case failures > updateThreshold:
		// Past the update threshold the runtime is flagged but not yet acted
		// on automatically; repeated failure is expected to be surfaced via
		// the failed_healthchecks counter itself for an operator to decide.
		return nil
	default:
		return nil
	}
}

// checkAgentDrift compares the controller's reported running agent against
// the one this control plane believes is bound, and re-converges on
// mismatch.
func (r *Reconciler) checkAgentDrift(ctx context.Context, rt *runtime.Runtime) error {
	bound, err := r.Agents.GetByRuntime(ctx, rt.ID)
	if err != nil {
		return err
	}
	if bound == nil {
		return nil
	}
	return r.HealthcheckRunningAgent(ctx, rt, bound)
}

// HealthcheckRunningAgent confirms the runtime's controller still reports
// the bound agent as running with a matching external id. On drift or
// not-running it re-submits AgentStart, unless one is already in flight.
func (r *Reconciler) HealthcheckRunningAgent(ctx context.Context, rt *runtime.Runtime, bound *agent.Agent) error {
	status, err := r.Ctl.CharacterStatusOf(ctx, rt.URL)
	if err != nil {
		return err
	}

	drifted := !status.Running
	if status.Running && bound.ExternalAgentID != nil && status.AgentID != nil && *status.AgentID != *bound.ExternalAgentID {
		drifted = true
	}
	if !drifted {
		return nil
	}

	inFlight, err := r.Lifecycle.AgentStartInFlight(ctx, bound.ID)
	if err != nil {
		return err
	}
	if inFlight {
		return nil
	}

	r.Logger.Warn("agent drift detected, re-starting", "agent_id", bound.ID, "runtime_id", rt.ID)
	_, err = r.Lifecycle.StartAgent(ctx, bound.ID, rt.ID)
	return err
}

// CleanupIdleRuntimes deletes unbound runtimes beyond the configured idle
// pool size, keeping the ones with the lowest service numbers. The started
// flag is not checked.
func (r *Reconciler) CleanupIdleRuntimes(ctx context.Context, idleSize int) error {
	idle, err := r.Runtimes.List(ctx, true)
	if err != nil {
		return err
	}
	if len(idle) <= idleSize {
		return nil
	}

	for _, rt := range idle[idleSize:] {
		r.Logger.Info("shrinking idle runtime pool", "runtime_id", rt.ID)
		if _, err := r.Lifecycle.DeleteRuntime(ctx, rt.ID); err != nil {
			r.Logger.Error("enqueueing idle runtime deletion", "runtime_id", rt.ID, "error", err)
		}
	}
	return nil
}
