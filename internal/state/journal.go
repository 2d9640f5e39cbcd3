// Package state persists the selection engine's decisions and per-agent task
// history to the SQLite journal, and restores task history on registration
// so cooldowns survive restarts.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/taskpilot/internal/db"
	"github.com/marcus/taskpilot/internal/logging"
	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/selector"
	"github.com/marcus/taskpilot/internal/tasks"
)

// Journal is the SQLite-backed decision journal.
type Journal struct {
	db     *db.DB
	logger *logging.Logger
}

// AgentRecord is a registered agent as stored in the journal.
type AgentRecord struct {
	ID           string
	Name         string
	RiskProfile  string
	TimeHorizon  string
	Interval     time.Duration
	RegisteredAt time.Time
}

// New wraps an open database.
func New(database *db.DB) (*Journal, error) {
	if database == nil || database.SQL() == nil {
		return nil, errors.New("state: database is nil")
	}
	return &Journal{db: database, logger: logging.Component("state")}, nil
}

// RecordAgent upserts an agent's registration.
func (j *Journal) RecordAgent(ctx context.Context, id string, p personality.Profile, interval time.Duration, at time.Time) error {
	_, err := j.db.SQL().ExecContext(ctx,
		`INSERT INTO agents (id, name, risk_profile, time_horizon, interval_ms, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     risk_profile = excluded.risk_profile,
		     time_horizon = excluded.time_horizon,
		     interval_ms = excluded.interval_ms,
		     registered_at = excluded.registered_at`,
		id, p.DisplayName, string(p.RiskProfile), string(p.TimeHorizon), interval.Milliseconds(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record agent %s: %w", id, err)
	}
	return nil
}

// RecordDecision stores a decision and, when given, the agent's updated
// history entry for the decision's task type, in one transaction.
func (j *Journal) RecordDecision(ctx context.Context, d selector.Decision, h *selector.TaskHistoryEntry) error {
	tx, err := j.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decision tx: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO decisions (id, agent_id, timestamp, kind, task_type, projected, actual, duration_ms, success, confidence, reason, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AgentID, d.Timestamp.UTC(), string(d.Kind), string(d.TaskType),
		d.ProjectedPerformance, d.ActualPerformance, d.Duration.Milliseconds(),
		boolToInt(d.Success), d.Confidence, d.Reason, d.Error,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}

	if h != nil && d.TaskType != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_history (agent_id, task_type, executions, successes, total_performance, avg_performance, last_executed)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_type) DO UPDATE SET
			     executions = excluded.executions,
			     successes = excluded.successes,
			     total_performance = excluded.total_performance,
			     avg_performance = excluded.avg_performance,
			     last_executed = excluded.last_executed`,
			d.AgentID, string(d.TaskType), h.Executions, h.Successes,
			h.TotalPerformance, h.AvgPerformance, h.LastExecuted.UTC(),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert task history %s/%s: %w", d.AgentID, d.TaskType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decision %s: %w", d.ID, err)
	}
	return nil
}

// RecordSkip stores a dropped cycle.
func (j *Journal) RecordSkip(ctx context.Context, agentID, reason string, at time.Time) error {
	_, err := j.db.SQL().ExecContext(ctx,
		`INSERT INTO cycle_skips (agent_id, timestamp, reason) VALUES (?, ?, ?)`,
		agentID, at.UTC(), reason,
	)
	if err != nil {
		return fmt.Errorf("record skip for %s: %w", agentID, err)
	}
	return nil
}

// HandleEvent is a selector.EventHandler that journals decisions and skips.
// Write failures are logged; the engine never sees them.
func (j *Journal) HandleEvent(ev selector.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch ev.Type {
	case selector.EventDecisionRecorded:
		if ev.Decision == nil {
			return
		}
		err = j.RecordDecision(ctx, *ev.Decision, ev.History)
	case selector.EventCycleSkipped:
		err = j.RecordSkip(ctx, ev.AgentID, ev.Reason, ev.Time)
	default:
		return
	}
	if err != nil {
		j.logger.ErrorCtx("journal write failed", map[string]any{
			"agent_id": ev.AgentID,
			"event":    ev.Type.String(),
			"error":    err.Error(),
		})
	}
}

// LoadTaskHistory implements selector.HistoryLoader.
func (j *Journal) LoadTaskHistory(ctx context.Context, agentID string) (map[tasks.TaskType]selector.TaskHistoryEntry, error) {
	rows, err := j.db.SQL().QueryContext(ctx,
		`SELECT task_type, executions, successes, total_performance, avg_performance, last_executed
		 FROM task_history WHERE agent_id = ?`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query task history for %s: %w", agentID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[tasks.TaskType]selector.TaskHistoryEntry)
	for rows.Next() {
		var (
			taskType string
			h        selector.TaskHistoryEntry
			last     sql.NullTime
		)
		if err := rows.Scan(&taskType, &h.Executions, &h.Successes, &h.TotalPerformance, &h.AvgPerformance, &last); err != nil {
			return nil, fmt.Errorf("scan task history: %w", err)
		}
		if last.Valid {
			h.LastExecuted = last.Time
		}
		out[tasks.TaskType(taskType)] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task history: %w", err)
	}
	return out, nil
}

// RecentDecisions returns up to limit decisions, newest first. An empty
// agentID returns decisions for every agent.
func (j *Journal) RecentDecisions(ctx context.Context, agentID string, limit int) ([]selector.Decision, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, agent_id, timestamp, kind, task_type, projected, actual, duration_ms, success, confidence, reason, error
		FROM decisions`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []selector.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

// Agents returns every agent in the journal, ordered by id.
func (j *Journal) Agents(ctx context.Context) ([]AgentRecord, error) {
	rows, err := j.db.SQL().QueryContext(ctx,
		`SELECT id, name, risk_profile, time_horizon, interval_ms, registered_at FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AgentRecord
	for rows.Next() {
		var (
			a          AgentRecord
			intervalMS int64
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.RiskProfile, &a.TimeHorizon, &intervalMS, &a.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Interval = time.Duration(intervalMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// SkipCount returns how many cycles were dropped for an agent.
func (j *Journal) SkipCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := j.db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM cycle_skips WHERE agent_id = ?`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count skips for %s: %w", agentID, err)
	}
	return n, nil
}

func scanDecision(rows *sql.Rows) (selector.Decision, error) {
	var (
		d          selector.Decision
		kind       string
		taskType   string
		durationMS int64
		success    int
	)
	if err := rows.Scan(
		&d.ID,
		&d.AgentID,
		&d.Timestamp,
		&kind,
		&taskType,
		&d.ProjectedPerformance,
		&d.ActualPerformance,
		&durationMS,
		&success,
		&d.Confidence,
		&d.Reason,
		&d.Error,
	); err != nil {
		return selector.Decision{}, fmt.Errorf("scan decision: %w", err)
	}
	d.Kind = selector.DecisionKind(kind)
	d.TaskType = tasks.TaskType(taskType)
	d.Duration = time.Duration(durationMS) * time.Millisecond
	d.Success = success != 0
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
