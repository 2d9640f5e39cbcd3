package selector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/marcus/taskpilot/internal/tasks"
)

var errNoResult = errors.New("task returned no result")

// execution is the outcome of running one selected task.
type execution struct {
	result   *tasks.Result
	err      error
	duration time.Duration
	actual   float64
}

// ActualPerformance scores a task result in [0.1, 1.0].
func ActualPerformance(r *tasks.Result) float64 {
	if r == nil {
		return FailedPerformance
	}

	perf := 0.5
	if r.Success {
		perf += 0.2
	}
	perf += math.Min(0.1*float64(len(r.Insights)), 0.3)
	if r.Value != nil && !math.IsNaN(*r.Value) {
		perf += 0.2 * *r.Value
	}
	if len(r.LearningMetrics) > 0 {
		perf += 0.1
	}
	return math.Max(0.1, math.Min(1.0, perf))
}

// execute loads and runs a task. Errors and panics are returned in the
// execution, never raised.
func (e *Engine) execute(ctx context.Context, agentID string, t tasks.TaskType) execution {
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}

	e.logger.InfoCtx("executing task", map[string]any{
		"agent_id":  agentID,
		"task_type": string(t),
	})

	start := e.now()
	var res *tasks.Result
	err := call(func() error {
		r, lerr := e.catalog.Load(t)
		if lerr != nil {
			return lerr
		}
		var rerr error
		res, rerr = r.Run(ctx)
		return rerr
	})
	if err == nil && res == nil {
		err = errNoResult
	}

	ex := execution{result: res, err: err, duration: e.now().Sub(start)}
	if err != nil {
		ex.result = nil
		ex.actual = FailedPerformance
		e.metrics.ObserveExecution(string(t), false, ex.duration.Seconds())
		return ex
	}
	ex.actual = ActualPerformance(res)
	e.metrics.ObserveExecution(string(t), res.Success, ex.duration.Seconds())
	return ex
}

// decisionFor builds the log entry for an executed candidate.
func (e *Engine) decisionFor(agentID string, ev *Evaluation, ex execution) Decision {
	d := e.newDecision(agentID)
	d.TaskType = ev.Type()
	d.ProjectedPerformance = ev.FinalScore
	d.Confidence = ev.Confidence
	d.ActualPerformance = ex.actual
	d.Duration = ex.duration

	if ex.err != nil {
		d.Kind = KindTaskFailed
		d.Error = fmt.Sprint(ex.err)
		return d
	}
	d.Kind = KindExecuteTask
	d.Success = ex.result.Success
	return d
}
