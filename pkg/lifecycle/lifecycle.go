// Package lifecycle implements the runtime and agent lifecycle sagas: the
// provisioning/teardown/roll of a remote container behind the cloud fabric,
// and the start/stop of an agent's character inside it. Task bodies are
// registered onto a tasks.Engine; single-flight and admission checks run
// synchronously in the API-facing methods before anything is submitted.
package lifecycle

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aidenforge/controlplane/internal/config"
	"github.com/aidenforge/controlplane/pkg/agent"
	"github.com/aidenforge/controlplane/pkg/fabric"
	"github.com/aidenforge/controlplane/pkg/rtctl"
	"github.com/aidenforge/controlplane/pkg/runtime"
	"github.com/aidenforge/controlplane/pkg/tasks"
)

// Poll budgets, fixed per the design rather than configurable: exhausting a
// budget is a normal failure that triggers its documented compensation.
const (
	createPollAttempts = 40
	createPollInterval = 15 * time.Second
	agentPollAttempts  = 60
	agentPollInterval  = 10 * time.Second
	updatePollAttempts = 40
	updatePollInterval = 15 * time.Second
	updateThreshold    = 3
	deleteThreshold    = 5
)

// Metrics are the counters the saga bodies record to, injected so the
// package has no direct dependency on the telemetry registry.
type Metrics struct {
	RuntimesCreated      prometheus.Counter
	RuntimesDeleted      prometheus.Counter
	RuntimesCreateFailed prometheus.Counter
	AgentsStarted        prometheus.Counter
	HealthchecksFailed   *prometheus.CounterVec
}

// Service wires together the stores, the fabric adapter, the controller
// client, and the task engine to implement the runtime/agent lifecycle.
type Service struct {
	Runtimes *runtime.Store
	Agents   *agent.Store
	Tasks    *tasks.Store
	Engine   *tasks.Engine
	Fabric   fabric.Adapter
	Ctl      *rtctl.Client
	Cfg      config.FabricConfig
	Pool     PoolConfig
	Logger   *slog.Logger
	Metrics  Metrics
}

// PoolConfig carries the idle-runtime pool bounds.
type PoolConfig struct {
	IdleSize  int
	Increment int
}

// Register binds every saga/task body onto the engine. Call once at startup
// after constructing Service.
func (s *Service) Register() {
	s.Engine.Register(tasks.KindRuntimeCreate, s.runCreateRuntime)
	s.Engine.Register(tasks.KindRuntimeUpdate, s.runUpdateRuntime)
	s.Engine.Register(tasks.KindRuntimeDelete, s.runDeleteRuntime)
	s.Engine.Register(tasks.KindAgentStart, s.runStartAgent)
}
