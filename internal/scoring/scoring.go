// Package scoring estimates the opportunity value of running a candidate
// task now. Scores are bounded to [0,1].
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/marcus/taskpilot/internal/logging"
	"github.com/marcus/taskpilot/internal/tasks"
)

// RecentWindow is how long after an execution a task type counts as recent.
const RecentWindow = 30 * time.Minute

// Context is the agent-side history a score may depend on.
type Context struct {
	AgentID      string
	Now          time.Time
	AvgSuccess   float64 // 0.5 when the type has never run
	Executions   int
	LastExecuted time.Time
}

// Input is one (task, context) pair to score.
type Input struct {
	Candidate tasks.Candidate
	Context   Context
}

// Scorer produces a base opportunity score.
type Scorer interface {
	Score(ctx context.Context, in Input) (float64, error)
}

// Estimator is an external value-estimation backend.
type Estimator interface {
	EvaluateOpportunity(ctx context.Context, md tasks.Metadata, c Context) (float64, error)
}

var priorityBonus = map[tasks.Priority]float64{
	tasks.PriorityCritical: 0.4,
	tasks.PriorityHigh:     0.3,
	tasks.PriorityMedium:   0.2,
	tasks.PriorityLow:      0.1,
}

// Heuristic is the deterministic fallback scorer.
type Heuristic struct{}

// Score never fails.
func (Heuristic) Score(_ context.Context, in Input) (float64, error) {
	return HeuristicScore(in), nil
}

// HeuristicScore computes the heuristic opportunity score, clamped to [0.1, 1.0].
func HeuristicScore(in Input) float64 {
	md := in.Candidate.Metadata
	c := in.Context

	score := 0.5
	score += priorityBonus[md.Priority]
	score += 0.2 * md.ValueScore
	score += 0.3 * (c.AvgSuccess - 0.5)

	if !c.LastExecuted.IsZero() && c.Now.Sub(c.LastExecuted) < RecentWindow {
		score -= 0.4
	}

	return clamp(score, 0.1, 1.0)
}

// Learned delegates to an Estimator and falls back to the heuristic on any
// failure.
type Learned struct {
	estimator Estimator
	logger    *logging.Logger
}

// NewLearned wraps an estimator.
func NewLearned(est Estimator, logger *logging.Logger) *Learned {
	if logger == nil {
		logger = logging.Component("scoring")
	}
	return &Learned{estimator: est, logger: logger}
}

// Score asks the estimator, falling back to HeuristicScore.
func (l *Learned) Score(ctx context.Context, in Input) (float64, error) {
	if l.estimator == nil {
		return HeuristicScore(in), nil
	}

	v, err := l.estimate(ctx, in)
	if err != nil {
		l.logger.DebugCtx("estimator failed, using heuristic", map[string]any{
			"task_type": string(in.Candidate.Definition.Type),
			"error":     err.Error(),
		})
		return HeuristicScore(in), nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		l.logger.DebugCtx("estimator returned non-finite score, using heuristic", map[string]any{
			"task_type": string(in.Candidate.Definition.Type),
		})
		return HeuristicScore(in), nil
	}
	return clamp(v, 0, 1), nil
}

func (l *Learned) estimate(ctx context.Context, in Input) (v float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = 0, fmt.Errorf("estimator panic: %v", p)
		}
	}()
	return l.estimator.EvaluateOpportunity(ctx, in.Candidate.Metadata, in.Context)
}

// RecordOutcome forwards outcomes to the estimator when it learns from them.
func (l *Learned) RecordOutcome(ctx context.Context, agentID string, o tasks.Outcome) error {
	if rec, ok := l.estimator.(tasks.OutcomeRecorder); ok {
		return rec.RecordOutcome(ctx, agentID, o)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
