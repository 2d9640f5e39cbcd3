// Package selector decides, per agent and per cycle, whether to start a
// background task and which one. Each registered agent runs on its own
// timer; cycles score every catalog candidate, apply the agent's
// personality, and execute the winner if it clears the acceptance policy.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/logging"
	"github.com/marcus/taskpilot/internal/metrics"
	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/scheduler"
	"github.com/marcus/taskpilot/internal/scoring"
	"github.com/marcus/taskpilot/internal/tasks"
)

// Engine errors.
var (
	ErrAgentExists    = errors.New("agent already registered")
	ErrAgentNotFound  = errors.New("agent not registered")
	ErrCycleInFlight  = errors.New("agent cycle already in flight")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
)

// Cycle outcomes used in metrics and logs.
const (
	outcomeExecuted = "executed"
	outcomeFailed   = "failed"
	outcomeNoAction = "no_action"
	outcomeError    = "error"

	skipInFlight      = "in_flight"
	skipPoolSaturated = "pool_saturated"
)

// Engine owns the per-agent selector states and their timers.
type Engine struct {
	catalog   *tasks.Catalog
	cfg       config.SelectionConfig
	logger    *logging.Logger
	scorer    scoring.Scorer
	projector RewardProjector
	assessor  Assessor
	sinks     []OutcomeSink
	updaters  []MetricsUpdater
	handlers  []EventHandler
	loader    HistoryLoader
	metrics   *metrics.Metrics
	now       func() time.Time
	sched     *scheduler.Scheduler

	mu      sync.RWMutex
	agents  map[string]*agentState
	running bool
	pool    *errgroup.Group
	runCtx  context.Context
	cancel  context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the selection tuning.
func WithConfig(cfg config.SelectionConfig) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithScorer replaces the heuristic scorer.
func WithScorer(s scoring.Scorer) Option {
	return func(e *Engine) {
		e.scorer = s
	}
}

// WithRewardProjector sets the reward projection collaborator.
func WithRewardProjector(p RewardProjector) Option {
	return func(e *Engine) {
		e.projector = p
	}
}

// WithAssessor sets the decision-awareness collaborator.
func WithAssessor(a Assessor) Option {
	return func(e *Engine) {
		e.assessor = a
	}
}

// WithOutcomeSink adds a learning collaborator. May be given more than once.
func WithOutcomeSink(s OutcomeSink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, s)
	}
}

// WithMetricsUpdater adds a learning-metrics collaborator.
func WithMetricsUpdater(u MetricsUpdater) Option {
	return func(e *Engine) {
		e.updaters = append(e.updaters, u)
	}
}

// WithEventHandler subscribes a handler to engine events.
func WithEventHandler(h EventHandler) Option {
	return func(e *Engine) {
		e.handlers = append(e.handlers, h)
	}
}

// WithHistoryLoader hydrates task history at registration.
func WithHistoryLoader(l HistoryLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a stopped engine over catalog.
func New(catalog *tasks.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		cfg:     config.Default().Selection,
		logger:  logging.Component("selector"),
		scorer:  scoring.Heuristic{},
		now:     time.Now,
		agents:  make(map[string]*agentState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched = scheduler.New(scheduler.WithLogger(e.logger.WithComponent("scheduler")))
	return e
}

// Register adds an agent with a fixed profile and schedules its cycles.
// If a HistoryLoader is configured the agent's task history is restored
// first, so cooldowns survive restarts.
func (e *Engine) Register(ctx context.Context, agentID string, p personality.Profile) error {
	if agentID == "" {
		return config.ErrMissingAgentID
	}
	if e.has(agentID) {
		return fmt.Errorf("%w: %s", ErrAgentExists, agentID)
	}

	var history map[tasks.TaskType]TaskHistoryEntry
	if e.loader != nil {
		h, err := e.loader.LoadTaskHistory(ctx, agentID)
		if err != nil {
			return fmt.Errorf("loading history for %s: %w", agentID, err)
		}
		history = h
	}

	interval := p.Interval(e.cfg.BaseInterval, e.cfg.MinTaskInterval)
	st := newAgentState(agentID, p, interval, e.cfg.MaxDecisionHistory, history)

	e.mu.Lock()
	if _, ok := e.agents[agentID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentExists, agentID)
	}
	e.agents[agentID] = st
	n := len(e.agents)
	e.mu.Unlock()

	if err := e.sched.Add(agentID, interval, func(context.Context) { e.dispatch(agentID) }); err != nil {
		e.mu.Lock()
		delete(e.agents, agentID)
		e.mu.Unlock()
		return fmt.Errorf("scheduling %s: %w", agentID, err)
	}

	e.metrics.SetAgents(n)
	e.logger.InfoCtx("agent registered", map[string]any{
		"agent_id":     agentID,
		"name":         p.DisplayName,
		"risk_profile": string(p.RiskProfile),
		"time_horizon": string(p.TimeHorizon),
		"interval":     interval.String(),
		"history":      len(history),
	})
	return nil
}

// RegisterConfig derives the agent's profile from configuration and
// registers it.
func (e *Engine) RegisterConfig(ctx context.Context, ac config.AgentConfig) error {
	p, err := personality.Derive(ac)
	if err != nil {
		return fmt.Errorf("agent %s: %w", ac.ID, err)
	}
	return e.Register(ctx, ac.ID, p)
}

// Deregister stops scheduling an agent. A cycle already in flight runs to
// completion and still records into the agent's state.
func (e *Engine) Deregister(agentID string) error {
	e.mu.Lock()
	st, ok := e.agents[agentID]
	if ok {
		delete(e.agents, agentID)
	}
	n := len(e.agents)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	_ = e.sched.Remove(agentID)
	st.deactivate()

	e.metrics.SetAgents(n)
	e.logger.InfoCtx("agent deregistered", map[string]any{"agent_id": agentID})
	return nil
}

// Start begins firing every agent's timer.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	limit := e.cfg.MaxConcurrentCycles
	if limit <= 0 {
		limit = 1
	}
	e.pool = new(errgroup.Group)
	e.pool.SetLimit(limit)
	e.runCtx, e.cancel = context.WithCancel(ctx)

	if err := e.sched.Start(context.Background()); err != nil {
		e.cancel()
		return fmt.Errorf("starting scheduler: %w", err)
	}
	e.running = true

	e.logger.InfoCtx("engine started", map[string]any{
		"agents":          len(e.agents),
		"max_concurrency": limit,
	})
	return nil
}

// Stop halts all timers and waits for in-flight cycles. If ctx expires
// first, the run context is cancelled and ctx.Err() is returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	pool, cancel := e.pool, e.cancel
	e.mu.Unlock()

	defer cancel()

	if err := e.sched.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		e.logger.WarnCtx("scheduler stop incomplete", map[string]any{"error": err.Error()})
	}

	done := make(chan struct{})
	go func() {
		_ = pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out, cancelling in-flight cycles")
		return ctx.Err()
	}
}

// RunCycle runs one cycle for an agent synchronously and returns the
// recorded decision.
func (e *Engine) RunCycle(ctx context.Context, agentID string) (Decision, error) {
	st, err := e.state(agentID)
	if err != nil {
		return Decision{}, err
	}
	if !st.inFlight.CompareAndSwap(false, true) {
		return Decision{}, fmt.Errorf("%w: %s", ErrCycleInFlight, agentID)
	}
	defer st.inFlight.Store(false)

	return e.cycle(ctx, st)
}

// Evaluate runs the scoring pipeline and policy for an agent without
// executing or recording anything.
func (e *Engine) Evaluate(ctx context.Context, agentID string) (Verdict, error) {
	st, err := e.state(agentID)
	if err != nil {
		return Verdict{}, err
	}
	now := e.now()
	evals := e.evaluate(ctx, st, now)
	return Select(evals, st.profile, st.historySnapshot(), e.cfg, now), nil
}

// Snapshot returns a copy of an agent's state.
func (e *Engine) Snapshot(agentID string) (AgentSnapshot, error) {
	st, err := e.state(agentID)
	if err != nil {
		return AgentSnapshot{}, err
	}
	snap := st.snapshot()
	snap.NextRun = e.sched.NextRun(agentID)
	return snap, nil
}

// Agents returns snapshots of every registered agent, sorted by id.
func (e *Engine) Agents() []AgentSnapshot {
	e.mu.RLock()
	states := make([]*agentState, 0, len(e.agents))
	for _, st := range e.agents {
		states = append(states, st)
	}
	e.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].id < states[j].id })

	out := make([]AgentSnapshot, 0, len(states))
	for _, st := range states {
		snap := st.snapshot()
		snap.NextRun = e.sched.NextRun(st.id)
		out = append(out, snap)
	}
	return out
}

// IsRunning reports whether timers are active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) has(agentID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.agents[agentID]
	return ok
}

func (e *Engine) state(agentID string) (*agentState, error) {
	e.mu.RLock()
	st, ok := e.agents[agentID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return st, nil
}

// dispatch is the timer callback. It hands the cycle to the pool and
// returns immediately; overlapping or unschedulable cycles are skipped.
func (e *Engine) dispatch(agentID string) {
	e.mu.RLock()
	st := e.agents[agentID]
	pool, ctx, running := e.pool, e.runCtx, e.running
	e.mu.RUnlock()

	if st == nil || !running {
		return
	}
	if !st.inFlight.CompareAndSwap(false, true) {
		e.skip(agentID, skipInFlight)
		return
	}

	ok := pool.TryGo(func() error {
		defer st.inFlight.Store(false)
		if _, err := e.cycle(ctx, st); err != nil {
			e.logger.ErrorCtx("cycle failed", map[string]any{
				"agent_id": agentID,
				"error":    err.Error(),
			})
		}
		return nil
	})
	if !ok {
		st.inFlight.Store(false)
		e.skip(agentID, skipPoolSaturated)
	}
}

func (e *Engine) skip(agentID, reason string) {
	e.metrics.RecordSkip(agentID)
	e.logger.WarnCtx("cycle skipped", map[string]any{
		"agent_id": agentID,
		"reason":   reason,
	})
	e.emit(Event{Type: EventCycleSkipped, AgentID: agentID, Reason: reason})
}

// cycle runs the full pipeline once. Degraded collaborators never fail the
// cycle; only a panic outside them does.
func (e *Engine) cycle(ctx context.Context, st *agentState) (d Decision, err error) {
	e.metrics.CycleStarted()
	defer e.metrics.CycleFinished()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic for %s: %v", st.id, r)
			e.metrics.RecordCycle(st.id, outcomeError)
		}
	}()

	now := e.now()
	evals := e.evaluate(ctx, st, now)
	v := Select(evals, st.profile, st.historySnapshot(), e.cfg, now)

	if !v.Accepted() {
		d = e.noAction(st.id, v)
		e.record(ctx, st, d, nil)
		e.metrics.RecordCycle(st.id, outcomeNoAction)
		return d, nil
	}

	ex := e.execute(ctx, st.id, v.Selected.Type())
	d = e.decisionFor(st.id, v.Selected, ex)
	e.record(ctx, st, d, ex.result)

	if d.Kind == KindTaskFailed {
		e.metrics.RecordCycle(st.id, outcomeFailed)
	} else {
		e.metrics.RecordCycle(st.id, outcomeExecuted)
	}
	return d, nil
}
