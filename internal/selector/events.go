package selector

import (
	"time"

	"github.com/marcus/taskpilot/internal/tasks"
)

// EventType classifies engine notifications.
type EventType int

const (
	EventTaskCompleted    EventType = iota // selected task ran successfully
	EventTaskFailed                        // selected task errored or panicked
	EventDecisionRecorded                  // a decision was appended to an agent's log
	EventCycleSkipped                      // a scheduled cycle was dropped
)

func (t EventType) String() string {
	switch t {
	case EventTaskCompleted:
		return "task_completed"
	case EventTaskFailed:
		return "task_failed"
	case EventDecisionRecorded:
		return "decision_recorded"
	case EventCycleSkipped:
		return "cycle_skipped"
	default:
		return "unknown"
	}
}

// Event carries data about an engine notification.
type Event struct {
	Type              EventType
	Time              time.Time
	AgentID           string
	TaskType          tasks.TaskType
	Result            *tasks.Result     // EventTaskCompleted
	Duration          time.Duration     // execution time
	ActualPerformance float64           // EventTaskCompleted
	Decision          *Decision         // EventDecisionRecorded
	History           *TaskHistoryEntry // EventDecisionRecorded, nil for NO_ACTION
	Reason            string            // EventCycleSkipped: in_flight or pool_saturated
	Error             string
}

// EventHandler is a callback that receives engine events. Handlers run on
// the cycle's goroutine and must not block for long.
type EventHandler func(Event)

// emit delivers an event to every handler. A panicking handler is logged
// and does not affect the cycle or other handlers.
func (e *Engine) emit(ev Event) {
	if len(e.handlers) == 0 {
		return
	}
	ev.Time = e.now()
	for _, h := range e.handlers {
		e.safely("event_handler", func() error {
			h(ev)
			return nil
		})
	}
}
