package selector

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/marcus/taskpilot/internal/tasks"
)

// OutcomeSink is an external learning collaborator told about every
// executed or failed task.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, agentID string, o tasks.Outcome) error
}

// MetricsUpdater receives the learning metrics a task reports.
type MetricsUpdater interface {
	UpdateMetrics(ctx context.Context, agentID string, m map[string]float64) error
}

// HistoryLoader hydrates an agent's task history at registration.
type HistoryLoader interface {
	LoadTaskHistory(ctx context.Context, agentID string) (map[tasks.TaskType]TaskHistoryEntry, error)
}

func (e *Engine) newDecision(agentID string) Decision {
	return Decision{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Timestamp: e.now(),
	}
}

// noAction builds the decision for a rejected verdict.
func (e *Engine) noAction(agentID string, v Verdict) Decision {
	d := e.newDecision(agentID)
	d.Kind = KindNoAction
	d.Reason = v.Reason
	if v.Selected != nil {
		d.TaskType = v.Selected.Type()
		d.ProjectedPerformance = v.Selected.FinalScore
		d.Confidence = v.Selected.Confidence
	}
	return d
}

// record appends d to the agent's log, forwards the outcome to learning
// collaborators, and emits the resulting events. res is nil unless the
// task ran to completion.
func (e *Engine) record(ctx context.Context, st *agentState, d Decision, res *tasks.Result) {
	updated := st.append(d)
	e.metrics.RecordDecision(d.AgentID, string(d.Kind), string(d.TaskType))

	fields := map[string]any{
		"agent_id":   d.AgentID,
		"kind":       string(d.Kind),
		"task_type":  string(d.TaskType),
		"projected":  d.ProjectedPerformance,
		"confidence": d.Confidence,
	}
	switch d.Kind {
	case KindNoAction:
		fields["reason"] = d.Reason
		e.logger.DebugCtx("no action", fields)
	case KindTaskFailed:
		fields["error"] = d.Error
		e.logger.WarnCtx("task failed", fields)
	default:
		fields["actual"] = d.ActualPerformance
		fields["duration"] = d.Duration.String()
		e.logger.InfoCtx("task executed", fields)
	}

	if d.Kind != KindNoAction {
		e.forward(ctx, d, res)
	}

	switch d.Kind {
	case KindExecuteTask:
		e.emit(Event{
			Type:              EventTaskCompleted,
			AgentID:           d.AgentID,
			TaskType:          d.TaskType,
			Result:            res,
			Duration:          d.Duration,
			ActualPerformance: d.ActualPerformance,
		})
	case KindTaskFailed:
		e.emit(Event{
			Type:     EventTaskFailed,
			AgentID:  d.AgentID,
			TaskType: d.TaskType,
			Duration: d.Duration,
			Error:    d.Error,
		})
	}

	dc := d
	e.emit(Event{
		Type:     EventDecisionRecorded,
		AgentID:  d.AgentID,
		TaskType: d.TaskType,
		Decision: &dc,
		History:  updated,
	})
}

// forward delivers the outcome to every learning collaborator. Failures are
// logged and never propagate.
func (e *Engine) forward(ctx context.Context, d Decision, res *tasks.Result) {
	o := tasks.Outcome{
		TaskType: d.TaskType,
		Success:  d.Success,
		Value:    d.ActualPerformance,
	}
	if res != nil {
		o.Insights = res.Insights
		if res.Value != nil {
			o.Value = *res.Value
		}
	}

	for _, sink := range e.sinks {
		e.safely("outcome_sink", func() error {
			return sink.RecordOutcome(ctx, d.AgentID, o)
		})
	}

	if rec, ok := e.scorer.(tasks.OutcomeRecorder); ok {
		e.safely("scorer", func() error {
			return rec.RecordOutcome(ctx, d.AgentID, o)
		})
	}

	if res != nil && len(res.LearningMetrics) > 0 {
		for _, u := range e.updaters {
			e.safely("metrics_updater", func() error {
				return u.UpdateMetrics(ctx, d.AgentID, res.LearningMetrics)
			})
		}
	}
}

// safely runs a best-effort collaborator call, logging errors and panics.
func (e *Engine) safely(name string, fn func() error) {
	if err := call(fn); err != nil {
		e.metrics.CollaboratorError(name)
		e.logger.WarnCtx(fmt.Sprintf("%s failed", name), map[string]any{
			"error": err.Error(),
		})
	}
}
