// Package session implements the Session Controller (spec §4.7): it binds
// one external client connection to one workspace, mints a WorkflowState
// per user query, and drives that query through the workflow graph while
// plumbing cooperative cancellation and HITL approval round-trips.
//
// Grounded on the teacher's internal/gateway control plane
// (ws_control_plane.go's per-connection session with a cancelable context,
// commands.go's registerActiveRun/cancelActiveRun/finishActiveRun token
// pattern) and internal/sessions/locker.go's exclusive-ownership lock,
// generalized from "one chat session" to "one workspace bound for the
// duration of a graph run."
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// Config bundles everything a Controller needs to build a Graph per bound
// session. Tools, Provider, Memory and Checkpoint are shared across all
// sessions in the process; only the event stream is per-session.
type Config struct {
	Nodes          map[wfstate.Agent]workflow.Node
	Supervisor     workflow.SupervisorFunc
	Tools          workflow.ToolCaller
	Provider       workflow.Provider
	Memory         workflow.MemoryStore
	Checkpoint     workflow.Checkpointer
	RecursionLimit int
	ApprovalSecret string
	Logger         *slog.Logger
}

// Controller is the process-wide Session Controller. One Controller serves
// every connection; each connection gets its own Bound session.
type Controller struct {
	cfg     Config
	binder  *workspaceBinder
	brokers *approvalBroker
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Bound
}

// New builds a Controller from shared, process-wide dependencies.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		binder:   newWorkspaceBinder(),
		brokers:  newApprovalBroker(cfg.ApprovalSecret),
		log:      cfg.Logger,
		sessions: make(map[string]*Bound),
	}
}

// activeRun tracks the cancel func for the in-flight graph run on a Bound
// session, guarded against a second query racing the first's cancellation
// (spec §4.7 step 5 / teacher commands.go's registerActiveRun).
type activeRun struct {
	token  string
	cancel context.CancelFunc
}

// Bound is one client connection's binding to a workspace, holding the
// event stream it was handed at connect time and the state needed to run
// successive queries against the same workspace.
type Bound struct {
	controller *Controller
	SessionID  string
	Workspace  string
	Events     *eventstream.Stream
	graph      *workflow.Graph

	mu  sync.Mutex
	run *activeRun
}

// Connect starts a new connection: it opens the event stream and emits the
// welcome event (spec §4.7 step 1). The caller must follow with Init before
// any Query.
func (c *Controller) Connect(sessionHint string, subscriber eventstream.Subscriber) *pendingConnection {
	id := sessionHint
	if id == "" {
		id = uuid.NewString()
	}
	events := eventstream.New(id, subscriber)
	events.Publish(context.Background(), eventstream.Welcome())
	return &pendingConnection{controller: c, sessionID: id, events: events}
}

// pendingConnection exists between welcome and a successful Init; it exists
// so an un-initialized connection cannot reach Query or Cancel.
type pendingConnection struct {
	controller *Controller
	sessionID  string
	events     *eventstream.Stream
}

// Init validates and binds workspacePath (spec §4.7 steps 2-3), returning
// the now-usable Bound session. On failure the pending connection's event
// stream is closed; the caller should surface the error and drop the
// connection.
func (p *pendingConnection) Init(workspacePath string) (*Bound, error) {
	abs, err := validateWorkspace(workspacePath)
	if err != nil {
		p.events.Close()
		return nil, err
	}
	if err := p.controller.binder.bind(abs, p.sessionID); err != nil {
		p.events.Close()
		return nil, err
	}

	b := &Bound{controller: p.controller, SessionID: p.sessionID, Workspace: abs, Events: p.events}
	b.graph = workflow.New(p.controller.cfg.Nodes, p.controller.cfg.Supervisor, &workflow.Deps{
		Tools:    p.controller.cfg.Tools,
		Provider: p.controller.cfg.Provider,
		Memory:   p.controller.cfg.Memory,
		Events:   b.Events,
		Approver: b,
	}, workflow.WithRecursionLimit(p.controller.cfg.RecursionLimit), workflow.WithCheckpointer(p.controller.cfg.Checkpoint), workflow.WithLogger(p.controller.log))

	p.controller.mu.Lock()
	p.controller.sessions[b.SessionID] = b
	p.controller.mu.Unlock()

	b.Events.Publish(context.Background(), eventstream.SessionInitialized(b.SessionID, abs))
	p.controller.log.Info("session bound", "session_id", b.SessionID, "workspace", abs)
	return b, nil
}

// Query instantiates a fresh WorkflowState sharing Workspace and drives it
// through the workflow graph to completion (spec §4.7 step 4). Exactly one
// workflow_complete event is published per call, regardless of outcome.
func (b *Bound) Query(ctx context.Context, text string) *workflow.Result {
	runCtx, cancel := context.WithCancel(ctx)
	token := b.registerRun(cancel)
	defer b.finishRun(token)

	state := wfstate.New(b.SessionID, b.Workspace, text)
	result := b.graph.Run(runCtx, state)
	b.Events.Publish(context.Background(), terminalEvent(result))
	return result
}

// Cancel implements the client's cooperative cancel control message (spec
// §6.4 `cancel{}`): it stops the next supervisor dispatch and, per spec §5,
// allows up to workflow.CancelGrace for the in-flight call to finish before
// the run is abandoned. Returns false if there was no run to cancel.
func (b *Bound) Cancel() bool {
	b.mu.Lock()
	run := b.run
	b.mu.Unlock()
	if run == nil {
		return false
	}
	run.cancel()
	return true
}

// RequestApproval publishes an approval_request event and blocks for a
// matching approval_response, a deadline, or ctx cancellation (spec §6.3 /
// §6.4). Bound satisfies workflow.Approver with this method, so nodes reach
// it through Deps.Approver (internal/nodes/codesmith.go's overwrite
// confirmation) without depending on internal/session directly.
func (b *Bound) RequestApproval(ctx context.Context, actionType, payload string, timeout time.Duration) (Decision, error) {
	correlationID, ch, err := b.controller.brokers.issue(b.SessionID, actionType, timeout)
	if err != nil {
		return Decision{}, err
	}
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	deadline := time.Now().Add(timeout)

	b.Events.Publish(ctx, eventstream.ApprovalRequest(correlationID, actionType, payload))
	decision := await(ctx, ch, deadline)
	return decision, nil
}

// ResolveApproval delivers a client's approval_response control message to
// the waiting RequestApproval call.
func (b *Bound) ResolveApproval(correlationID string, decision Decision) error {
	return b.controller.brokers.resolve(b.SessionID, correlationID, decision)
}

// Close implements spec §4.7 step 6: on disconnect, abandon any in-flight
// run and release the workspace binding. Checkpoint persistence, if
// configured, has already happened per-transition inside Query's graph run.
func (b *Bound) Close() {
	b.Cancel()
	b.controller.binder.release(b.Workspace)
	b.controller.mu.Lock()
	delete(b.controller.sessions, b.SessionID)
	b.controller.mu.Unlock()
	b.Events.Close()
}

func (b *Bound) registerRun(cancel context.CancelFunc) string {
	token := uuid.NewString()
	b.mu.Lock()
	if b.run != nil {
		b.run.cancel()
	}
	b.run = &activeRun{token: token, cancel: cancel}
	b.mu.Unlock()
	return token
}

func (b *Bound) finishRun(token string) {
	b.mu.Lock()
	if b.run != nil && b.run.token == token {
		b.run = nil
	}
	b.mu.Unlock()
}

func terminalEvent(result *workflow.Result) eventstream.Event {
	var quality *float64
	if result.State != nil && result.State.ReviewReport != nil {
		q := result.State.ReviewReport.QualityScore
		quality = &q
	}
	summary := result.State.UserResponse
	if summary == "" {
		summary = fmt.Sprintf("workflow ended with status %s", result.Status)
	}
	return eventstream.WorkflowComplete(summary, quality)
}
