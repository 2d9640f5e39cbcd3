package selector

import (
	"sort"
	"time"

	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/tasks"
)

// Stage names the selection policy's checkpoints.
type Stage string

const (
	StageCandidatesRanked Stage = "CANDIDATES_RANKED"
	StageThresholdCheck   Stage = "THRESHOLD_CHECK"
	StageCooldownCheck    Stage = "COOLDOWN_CHECK"
	StageAccepted         Stage = "ACCEPTED"
	StageRejected         Stage = "REJECTED"
)

// CooldownTable resolves the minimum re-execution interval of a task type.
// config.SelectionConfig satisfies it.
type CooldownTable interface {
	CooldownFor(taskType string) time.Duration
}

// Verdict is the outcome of one policy run.
type Verdict struct {
	Outcome    Stage // StageAccepted or StageRejected
	RejectedAt Stage // the check that rejected; empty when accepted
	Reason     string
	Threshold  float64
	Ranked     []Evaluation // final score descending
	Selected   *Evaluation  // top candidate, nil when none

	Cooldown          time.Duration
	CooldownRemaining time.Duration
}

// Accepted reports whether the top candidate should run.
func (v Verdict) Accepted() bool {
	return v.Outcome == StageAccepted
}

// Select ranks evaluations and decides whether the top one runs now. It is
// pure: the result depends only on its arguments.
func Select(evals []Evaluation, p personality.Profile, history map[tasks.TaskType]TaskHistoryEntry, cooldowns CooldownTable, now time.Time) Verdict {
	ranked := make([]Evaluation, len(evals))
	copy(ranked, evals)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	v := Verdict{
		Outcome:   StageRejected,
		Threshold: p.Threshold(),
		Ranked:    ranked,
	}

	if len(ranked) == 0 {
		v.RejectedAt = StageCandidatesRanked
		v.Reason = ReasonNoCandidates
		return v
	}
	top := &v.Ranked[0]
	v.Selected = top

	if top.FinalScore < v.Threshold {
		v.RejectedAt = StageThresholdCheck
		v.Reason = ReasonBelowThreshold
		return v
	}

	v.Cooldown = cooldowns.CooldownFor(string(top.Type()))
	if h, ok := history[top.Type()]; ok && !h.LastExecuted.IsZero() {
		if elapsed := now.Sub(h.LastExecuted); elapsed < v.Cooldown {
			v.RejectedAt = StageCooldownCheck
			v.Reason = ReasonCooldown
			v.CooldownRemaining = v.Cooldown - elapsed
			return v
		}
	}

	v.Outcome = StageAccepted
	return v
}
