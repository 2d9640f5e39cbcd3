package selector

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/tasks"
)

// DecisionKind is the outcome class of one cycle.
type DecisionKind string

const (
	KindExecuteTask DecisionKind = "EXECUTE_TASK"
	KindNoAction    DecisionKind = "NO_ACTION"
	KindTaskFailed  DecisionKind = "TASK_FAILED"
)

// Reasons recorded on NO_ACTION decisions.
const (
	ReasonNoCandidates   = "no_candidates"
	ReasonBelowThreshold = "below_threshold"
	ReasonCooldown       = "cooldown"
)

// FailedPerformance is the actual performance recorded for TASK_FAILED.
const FailedPerformance = 0.1

// Decision is one entry in an agent's decision log.
type Decision struct {
	ID                   string         `json:"id"`
	AgentID              string         `json:"agent_id"`
	Timestamp            time.Time      `json:"timestamp"`
	Kind                 DecisionKind   `json:"kind"`
	TaskType             tasks.TaskType `json:"task_type,omitempty"`
	ProjectedPerformance float64        `json:"projected_performance"`
	ActualPerformance    float64        `json:"actual_performance"`
	Duration             time.Duration  `json:"duration"`
	Success              bool           `json:"success"`
	Confidence           float64        `json:"confidence"`
	Reason               string         `json:"reason,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// TaskHistoryEntry aggregates an agent's executions of one task type.
type TaskHistoryEntry struct {
	Executions       int       `json:"executions"`
	Successes        int       `json:"successes"`
	TotalPerformance float64   `json:"total_performance"`
	AvgPerformance   float64   `json:"avg_performance"`
	LastExecuted     time.Time `json:"last_executed"`
}

// AvgSuccess is successes/executions, or 0.5 before the first execution.
func (h TaskHistoryEntry) AvgSuccess() float64 {
	if h.Executions == 0 {
		return 0.5
	}
	return float64(h.Successes) / float64(h.Executions)
}

// add folds one execution into the entry.
func (h *TaskHistoryEntry) add(success bool, actual float64, at time.Time) {
	h.Executions++
	if success {
		h.Successes++
	}
	h.TotalPerformance += actual
	h.AvgPerformance = h.TotalPerformance / float64(h.Executions)
	h.LastExecuted = at
}

// AgentSnapshot is a point-in-time copy of an agent's selector state.
type AgentSnapshot struct {
	ID           string
	Profile      personality.Profile
	Interval     time.Duration
	Active       bool
	InFlight     bool
	LastDecision time.Time
	NextRun      time.Time
	Decisions    []Decision
	History      map[tasks.TaskType]TaskHistoryEntry
}

// agentState is the per-agent selector state. Fields below mu are guarded
// by it; the profile and interval never change after registration.
type agentState struct {
	id       string
	profile  personality.Profile
	interval time.Duration
	maxLog   int
	inFlight atomic.Bool

	mu           sync.Mutex
	active       bool
	lastDecision time.Time
	decisions    []Decision
	history      map[tasks.TaskType]TaskHistoryEntry
}

// defaultDecisionHistory bounds the decision log when no size is configured.
const defaultDecisionHistory = 100

func newAgentState(id string, p personality.Profile, interval time.Duration, maxLog int, history map[tasks.TaskType]TaskHistoryEntry) *agentState {
	if maxLog <= 0 {
		maxLog = defaultDecisionHistory
	}
	h := make(map[tasks.TaskType]TaskHistoryEntry, len(history))
	for t, e := range history {
		h[t] = e
	}
	return &agentState{
		id:       id,
		profile:  p,
		interval: interval,
		maxLog:   maxLog,
		active:   true,
		history:  h,
	}
}

// historySnapshot copies the task history map.
func (s *agentState) historySnapshot() map[tasks.TaskType]TaskHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[tasks.TaskType]TaskHistoryEntry, len(s.history))
	for t, e := range s.history {
		out[t] = e
	}
	return out
}

// append records a decision, updating task history for executed or failed
// tasks. It returns the updated history entry, or nil for NO_ACTION.
func (s *agentState) append(d Decision) *TaskHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *TaskHistoryEntry
	if d.Kind != KindNoAction && d.TaskType != "" {
		h := s.history[d.TaskType]
		h.add(d.Success, d.ActualPerformance, d.Timestamp)
		s.history[d.TaskType] = h
		updated = &h
	}

	s.decisions = append(s.decisions, d)
	if over := len(s.decisions) - s.maxLog; over > 0 {
		s.decisions = append([]Decision(nil), s.decisions[over:]...)
	}
	s.lastDecision = d.Timestamp
	return updated
}

func (s *agentState) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *agentState) snapshot() AgentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := AgentSnapshot{
		ID:           s.id,
		Profile:      s.profile,
		Interval:     s.interval,
		Active:       s.active,
		InFlight:     s.inFlight.Load(),
		LastDecision: s.lastDecision,
		Decisions:    append([]Decision(nil), s.decisions...),
		History:      make(map[tasks.TaskType]TaskHistoryEntry, len(s.history)),
	}
	for t, e := range s.history {
		snap.History[t] = e
	}
	return snap
}

// HistoryTypes returns the snapshot's task types in sorted order.
func (a AgentSnapshot) HistoryTypes() []tasks.TaskType {
	types := make([]tasks.TaskType, 0, len(a.History))
	for t := range a.History {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
