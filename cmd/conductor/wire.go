package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgeflow/conductor/internal/agentadapter"
	"github.com/forgeflow/conductor/internal/checkpoint"
	"github.com/forgeflow/conductor/internal/config"
	"github.com/forgeflow/conductor/internal/memstore"
	"github.com/forgeflow/conductor/internal/nodes"
	"github.com/forgeflow/conductor/internal/observability"
	"github.com/forgeflow/conductor/internal/policy"
	"github.com/forgeflow/conductor/internal/providers"
	"github.com/forgeflow/conductor/internal/session"
	"github.com/forgeflow/conductor/internal/supervisor"
	"github.com/forgeflow/conductor/internal/toolbus"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

// engine bundles every process-wide component built at boot (spec §2
// Lifecycle/Init) so serve/status/checkpoint-gc can share one construction
// path and one graceful shutdown.
type engine struct {
	cfg    *config.Config
	logger *observability.Logger
	slog   *slog.Logger

	metrics        *observability.Metrics
	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error

	bus *toolbus.Bus

	memory      workflow.MemoryStore
	memoryStore memoryCloser

	checkpointStore *checkpoint.Store
	checkpointGC    *checkpoint.GC

	controller *session.Controller
}

// memoryCloser is satisfied by both memstore backends; nil when no backend
// is configured.
type memoryCloser interface {
	Close() error
}

// buildEngine wires every already-built internal package into one running
// process, following the teacher's boot order: logging, then observability,
// then the tool bus (probing required servers), then providers and policy,
// then persistence, then the graph nodes and session controller.
func buildEngine(cfg *config.Config) (*engine, error) {
	e := &engine{cfg: cfg}

	e.logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	e.slog = e.logger.With(context.Background())

	e.metrics = observability.NewMetrics(prometheus.DefaultRegisterer)

	tracingEndpoint := ""
	if cfg.Observability.TracingEnabled {
		tracingEndpoint = cfg.Observability.TracingOTLPURL
	}
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:  "conductor",
		Endpoint:     tracingEndpoint,
		SamplingRate: cfg.Observability.SampleRatio,
	})
	e.tracer = tracer
	e.tracerShutdown = shutdown

	e.bus = toolbus.New(cfg.ToolServers, e.slog, nil)
	if err := e.bus.ProbeRequired(context.Background()); err != nil {
		return nil, fmt.Errorf("conductor: required tool servers not ready: %w", err)
	}

	provider, err := buildProvider(cfg, e.slog)
	if err != nil {
		return nil, err
	}

	memory, closer, err := buildMemory(cfg)
	if err != nil {
		return nil, err
	}
	e.memory = memory
	e.memoryStore = closer

	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.New(cfg.Checkpoint.Directory)
		if err != nil {
			return nil, fmt.Errorf("conductor: checkpoint store: %w", err)
		}
		e.checkpointStore = store
		e.checkpointGC = checkpoint.NewGC(store, cfg.Checkpoint.GCRetention, e.slog, e.metrics)
		if err := e.checkpointGC.Start(cfg.Checkpoint.GCInterval); err != nil {
			return nil, fmt.Errorf("conductor: checkpoint gc: %w", err)
		}
	}

	nodeMap := map[wfstate.Agent]workflow.Node{
		wfstate.AgentResearch:  nodes.Research,
		wfstate.AgentArchitect: nodes.Architect,
		wfstate.AgentCodesmith: nodes.Codesmith,
		wfstate.AgentReviewFix: nodes.ReviewFix,
		wfstate.AgentResponder: nodes.Responder,
	}

	supervisorFn := supervisor.New(supervisor.Config{})

	var checkpointer workflow.Checkpointer
	if e.checkpointStore != nil {
		checkpointer = e.checkpointStore
	}

	e.controller = session.New(session.Config{
		Nodes:          nodeMap,
		Supervisor:     supervisorFn,
		Tools:          e.bus,
		Provider:       provider,
		Memory:         e.memory,
		Checkpoint:     checkpointer,
		RecursionLimit: cfg.Engine.RecursionLimit,
		ApprovalSecret: cfg.Approval.Secret,
		Logger:         e.slog,
	})

	return e, nil
}

// buildProvider constructs one agentadapter.Adapter per configured account,
// wraps each in a policy.GatedProvider so capability-scoped tool filtering
// applies regardless of which account serves a given agent, and returns a
// router that dispatches each invocation to the account LLMProviderConfig
// names for that agent (spec §6.5 llm_provider.default / per_agent).
func buildProvider(cfg *config.Config, log *slog.Logger) (workflow.Provider, error) {
	resolver := policy.NewResolver()
	gated := make(map[string]*policy.GatedProvider, len(cfg.LLMProvider.Accounts))

	for name, acct := range cfg.LLMProvider.Accounts {
		adapter, err := buildAdapter(acct)
		if err != nil {
			return nil, fmt.Errorf("conductor: llm_provider.accounts.%s: %w", name, err)
		}
		gated[name] = policy.NewGatedProvider(adapter, resolver)
		log.Info("llm provider account ready", "account", name, "kind", acct.Kind)
	}

	if len(gated) == 0 {
		return nil, fmt.Errorf("conductor: llm_provider.accounts has no entries")
	}

	return &providerRouter{accounts: gated, resolve: cfg.LLMProvider.ForAgent, fallback: cfg.LLMProvider.Default}, nil
}

func buildAdapter(acct config.ProviderAccountConfig) (*agentadapter.Adapter, error) {
	switch strings.ToLower(acct.Kind) {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       acct.APIKey,
			BaseURL:      acct.BaseURL,
			DefaultModel: acct.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return agentadapter.New(p, agentadapter.DefaultRetryConfig()), nil
	case "openai":
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       acct.APIKey,
			BaseURL:      acct.BaseURL,
			DefaultModel: acct.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return agentadapter.New(p, agentadapter.DefaultRetryConfig()), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", acct.Kind)
	}
}

// providerRouter implements workflow.Provider by picking the account a
// given invocation's agent is configured to use and delegating to that
// account's GatedProvider.
type providerRouter struct {
	accounts map[string]*policy.GatedProvider
	resolve  func(wfstate.Agent) string
	fallback string
}

func (r *providerRouter) account(agent wfstate.Agent) (*policy.GatedProvider, error) {
	name := r.resolve(agent)
	if name == "" {
		name = r.fallback
	}
	p, ok := r.accounts[name]
	if !ok {
		return nil, fmt.Errorf("conductor: no llm_provider account named %q for agent %q", name, agent)
	}
	return p, nil
}

func (r *providerRouter) Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	p, err := r.account(inv.Agent)
	if err != nil {
		return nil, err
	}
	return p.Invoke(ctx, inv)
}

func (r *providerRouter) InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error) {
	p, err := r.account(inv.Agent)
	if err != nil {
		return nil, err
	}
	return p.InvokeStructured(ctx, inv, schema)
}

// buildMemory selects the memory backend named by cfg.Memory.Backend. A
// "none" backend returns a nil workflow.MemoryStore; Deps.Memory callers
// (research Remembers each finding, architect/reviewfix Recall them on a
// later run) must tolerate that by skipping Remember/Recall, matching
// spec §6.2's "(optional) relational memory store" wording.
func buildMemory(cfg *config.Config) (workflow.MemoryStore, memoryCloser, error) {
	switch strings.ToLower(cfg.Memory.Backend) {
	case "none", "":
		return nil, nil, nil
	case "postgres":
		store, err := memstore.NewPostgresStore(cfg.Memory.DSN, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("conductor: memory backend: %w", err)
		}
		return store, store, nil
	case "sqlite":
		store, err := memstore.NewSQLiteStore(cfg.Memory.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("conductor: memory backend: %w", err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("conductor: unknown memory backend %q", cfg.Memory.Backend)
	}
}

// Shutdown releases every resource buildEngine acquired, in reverse order.
func (e *engine) Shutdown(ctx context.Context) error {
	if e.checkpointGC != nil {
		e.checkpointGC.Stop()
	}
	if e.bus != nil {
		e.bus.Shutdown()
	}
	if e.memoryStore != nil {
		if err := e.memoryStore.Close(); err != nil {
			e.slog.Warn("close memory store", "error", err)
		}
	}
	if e.tracerShutdown != nil {
		return e.tracerShutdown(ctx)
	}
	return nil
}
