package selector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/scoring"
	"github.com/marcus/taskpilot/internal/tasks"
)

// Pipeline constants.
const (
	ScoreOnError         = 0.2 // base score when the scorer fails
	ProjectionPenalty    = 0.5 // modulated × this when projection fails
	HistoricalBonus      = 1.2
	HistoricalPenalty    = 0.7
	AwarenessErrorFactor = 0.8
	AwarenessErrorConf   = 0.5
	DefaultProceedConf   = 0.7
	DefaultHoldConf      = 0.3
	HoldFactor           = 0.5

	historicalBonusAbove   = 0.8
	historicalPenaltyBelow = 0.4
)

// RecommendProceed is the awareness recommendation that allows a candidate
// through at full confidence.
const RecommendProceed = "PROCEED"

var errProjection = errors.New("reward projection failed")

// Evaluation is a candidate with its score at every pipeline stage.
type Evaluation struct {
	Candidate      tasks.Candidate
	BaseScore      float64
	ScoreError     string
	ModulatedScore float64
	Multiplier     float64
	Reasons        []string

	ProjectedReward float64
	Breakdown       map[string]any

	FinalScore     float64
	Confidence     float64
	Recommendation string
	AwarenessError string
}

// Type is shorthand for the candidate's task type.
func (ev Evaluation) Type() tasks.TaskType {
	return ev.Candidate.Definition.Type
}

// ProjectionContext is what a RewardProjector sees about a candidate.
type ProjectionContext struct {
	TaskType       tasks.TaskType
	Category       tasks.Category
	BaseScore      float64
	ModulatedScore float64
	Multiplier     float64
	AvgSuccess     float64
	Executions     int
}

// Projection is a RewardProjector's estimate.
type Projection struct {
	ExpectedReward float64
	Breakdown      map[string]any
}

// RewardProjector is the external reward/penalty accounting collaborator.
type RewardProjector interface {
	ProjectReward(ctx context.Context, agentID string, md tasks.Metadata, pc ProjectionContext) (Projection, error)
}

// CandidateContext is what an Assessor sees about a candidate.
type CandidateContext struct {
	TaskType        tasks.TaskType
	Category        tasks.Category
	Metadata        tasks.Metadata
	BaseScore       float64
	ModulatedScore  float64
	ProjectedReward float64
	Reasons         []string
}

// Assessment is an Assessor's verdict. A nil Confidence means the
// collaborator did not supply one.
type Assessment struct {
	Recommendation string
	Confidence     *float64
}

// Assessor is the external decision-awareness collaborator.
type Assessor interface {
	AssessDecision(ctx context.Context, agentID string, cc CandidateContext, meta map[string]any) (Assessment, error)
}

// evaluate runs every catalog candidate through the scoring pipeline.
func (e *Engine) evaluate(ctx context.Context, st *agentState, now time.Time) []Evaluation {
	candidates := e.catalog.Candidates(ctx)
	history := st.historySnapshot()

	evals := make([]Evaluation, 0, len(candidates))
	for _, c := range candidates {
		h := history[c.Definition.Type]
		ev := Evaluation{Candidate: c}

		e.score(ctx, st, &ev, h, now)
		e.modulate(st.profile, &ev)
		e.project(ctx, st.id, &ev, h)
		e.assess(ctx, st, &ev)

		evals = append(evals, ev)
	}
	return evals
}

func (e *Engine) score(ctx context.Context, st *agentState, ev *Evaluation, h TaskHistoryEntry, now time.Time) {
	in := scoring.Input{
		Candidate: ev.Candidate,
		Context: scoring.Context{
			AgentID:      st.id,
			Now:          now,
			AvgSuccess:   h.AvgSuccess(),
			Executions:   h.Executions,
			LastExecuted: h.LastExecuted,
		},
	}

	v, err := callFloat(func() (float64, error) { return e.scorer.Score(ctx, in) })
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite score %v", v)
	}
	if err != nil {
		e.logger.WarnCtx("scoring failed, using fallback score", map[string]any{
			"agent_id":  st.id,
			"task_type": string(ev.Type()),
			"error":     err.Error(),
		})
		e.metrics.CollaboratorError("scorer")
		ev.BaseScore = ScoreOnError
		ev.ScoreError = err.Error()
	} else {
		ev.BaseScore = v
	}
	e.metrics.ObserveStage("base", ev.BaseScore)
}

func (e *Engine) modulate(p personality.Profile, ev *Evaluation) {
	def := ev.Candidate.Definition
	mult, reasons := personality.Modulate(p, personality.Subject{
		Category:          def.Category,
		Risk:              ev.Candidate.Metadata.Risk,
		EstimatedDuration: ev.Candidate.Metadata.EstimatedDuration,
	})
	ev.Multiplier = mult
	ev.Reasons = reasons
	ev.ModulatedScore = ev.BaseScore * mult
	e.metrics.ObserveStage("modulated", ev.ModulatedScore)
}

func (e *Engine) project(ctx context.Context, agentID string, ev *Evaluation, h TaskHistoryEntry) {
	value, breakdown, err := e.projectStage(ctx, agentID, ev, h)
	if err != nil {
		e.logger.WarnCtx("reward projection failed, applying penalty", map[string]any{
			"agent_id":  agentID,
			"task_type": string(ev.Type()),
			"error":     err.Error(),
		})
		e.metrics.CollaboratorError("projection")
		value = ev.ModulatedScore * ProjectionPenalty
		breakdown = map[string]any{
			"modulated": ev.ModulatedScore,
			"penalty":   ProjectionPenalty,
			"error":     err.Error(),
		}
	}
	ev.ProjectedReward = value
	ev.Breakdown = breakdown
	e.metrics.ObserveStage("projected", value)
}

func (e *Engine) projectStage(ctx context.Context, agentID string, ev *Evaluation, h TaskHistoryEntry) (value float64, breakdown map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errProjection, r)
		}
	}()

	value = ev.ModulatedScore
	breakdown = map[string]any{"modulated": value}

	if e.projector != nil {
		p, perr := e.projector.ProjectReward(ctx, agentID, ev.Candidate.Metadata, ProjectionContext{
			TaskType:       ev.Type(),
			Category:       ev.Candidate.Definition.Category,
			BaseScore:      ev.BaseScore,
			ModulatedScore: ev.ModulatedScore,
			Multiplier:     ev.Multiplier,
			AvgSuccess:     h.AvgSuccess(),
			Executions:     h.Executions,
		})
		if perr != nil {
			e.metrics.CollaboratorError("reward_projector")
			breakdown["projector_error"] = perr.Error()
		} else {
			value = p.ExpectedReward
			breakdown = make(map[string]any, len(p.Breakdown)+1)
			for k, v := range p.Breakdown {
				breakdown[k] = v
			}
		}
	}

	switch avg := h.AvgSuccess(); {
	case avg > historicalBonusAbove:
		value *= HistoricalBonus
		breakdown["historical_bonus"] = HistoricalBonus
	case avg < historicalPenaltyBelow:
		value *= HistoricalPenalty
		breakdown["historical_penalty"] = HistoricalPenalty
	}

	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, nil, fmt.Errorf("%w: invalid projected value %v", errProjection, value)
	}
	return value, breakdown, nil
}

func (e *Engine) assess(ctx context.Context, st *agentState, ev *Evaluation) {
	defer func() { e.metrics.ObserveStage("final", ev.FinalScore) }()

	if e.assessor == nil {
		ev.FinalScore = ev.ProjectedReward
		ev.Confidence = 1.0
		ev.Recommendation = RecommendProceed
		return
	}

	cc := CandidateContext{
		TaskType:        ev.Type(),
		Category:        ev.Candidate.Definition.Category,
		Metadata:        ev.Candidate.Metadata,
		BaseScore:       ev.BaseScore,
		ModulatedScore:  ev.ModulatedScore,
		ProjectedReward: ev.ProjectedReward,
		Reasons:         ev.Reasons,
	}
	meta := map[string]any{
		"risk_profile":   string(st.profile.RiskProfile),
		"time_horizon":   string(st.profile.TimeHorizon),
		"learning_style": string(st.profile.LearningStyle),
		"breakdown":      ev.Breakdown,
	}

	var a Assessment
	err := call(func() error {
		var aerr error
		a, aerr = e.assessor.AssessDecision(ctx, st.id, cc, meta)
		return aerr
	})
	if err != nil {
		e.logger.WarnCtx("decision awareness unavailable, applying flat penalty", map[string]any{
			"agent_id":  st.id,
			"task_type": string(ev.Type()),
			"error":     err.Error(),
		})
		e.metrics.CollaboratorError("assessor")
		ev.FinalScore = ev.ProjectedReward * AwarenessErrorFactor
		ev.Confidence = AwarenessErrorConf
		ev.AwarenessError = err.Error()
		return
	}

	ev.Recommendation = a.Recommendation
	if a.Recommendation == RecommendProceed {
		ev.Confidence = confidenceOr(a.Confidence, DefaultProceedConf)
		ev.FinalScore = ev.ProjectedReward * ev.Confidence
		return
	}
	ev.Confidence = confidenceOr(a.Confidence, DefaultHoldConf)
	ev.FinalScore = ev.ProjectedReward * ev.Confidence * HoldFactor
}

func confidenceOr(c *float64, def float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return def
	}
	return math.Max(0, math.Min(1, *c))
}

// call runs fn, converting a panic into an error.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func callFloat(fn func() (float64, error)) (v float64, err error) {
	err = call(func() error {
		var ferr error
		v, ferr = fn()
		return ferr
	})
	return v, err
}
