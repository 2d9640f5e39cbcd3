package selector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/logging"
	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/scoring"
	"github.com/marcus/taskpilot/internal/tasks"
)

var (
	conservative = personality.Profile{
		DisplayName:   "careful",
		RiskProfile:   personality.Conservative,
		TimeHorizon:   personality.MediumTerm,
		LearningStyle: personality.Analytical,
	}
	balanced = personality.Profile{
		DisplayName:   "steady",
		RiskProfile:   personality.Balanced,
		TimeHorizon:   personality.MediumTerm,
		LearningStyle: personality.Analytical,
	}
)

// fakeTask is a Runnable with a scripted Run.
type fakeTask struct {
	run func(ctx context.Context) (*tasks.Result, error)
}

func (f *fakeTask) Run(ctx context.Context) (*tasks.Result, error) {
	if f.run == nil {
		return &tasks.Result{Success: true}, nil
	}
	return f.run(ctx)
}

// neutralDef has no category weight, risk or horizon effect on any profile
// used in these tests, so modulation is ×1.
func neutralDef(t tasks.TaskType) tasks.Definition {
	return tasks.Definition{
		Type:              t,
		Name:              string(t),
		Category:          tasks.CategoryMaintenance,
		DefaultPriority:   tasks.PriorityMedium,
		EstimatedDuration: "5 minutes",
		Risk:              tasks.RiskMedium,
	}
}

// newCatalog registers neutral tasks in order. runs overrides Run per type.
func newCatalog(t *testing.T, types []tasks.TaskType, runs map[tasks.TaskType]func(context.Context) (*tasks.Result, error)) *tasks.Catalog {
	t.Helper()
	c := tasks.NewCatalog(tasks.WithCatalogLogger(logging.Nop()))
	for _, tt := range types {
		run := runs[tt]
		err := c.Register(tasks.Entry{
			Definition: neutralDef(tt),
			Factory:    func() (tasks.Runnable, error) { return &fakeTask{run: run}, nil },
		})
		if err != nil {
			t.Fatalf("Register(%s): %v", tt, err)
		}
	}
	return c
}

// tableScorer returns fixed scores per type.
type tableScorer struct {
	scores map[tasks.TaskType]float64
	errs   map[tasks.TaskType]error
	panics map[tasks.TaskType]bool

	mu       sync.Mutex
	outcomes []tasks.Outcome
}

func (s *tableScorer) Score(_ context.Context, in scoring.Input) (float64, error) {
	t := in.Candidate.Definition.Type
	if s.panics[t] {
		panic("scorer blew up")
	}
	if err := s.errs[t]; err != nil {
		return 0, err
	}
	return s.scores[t], nil
}

func (s *tableScorer) RecordOutcome(_ context.Context, _ string, o tasks.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// eventLog collects events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testSelection() config.SelectionConfig {
	return config.SelectionConfig{
		BaseInterval:        time.Hour,
		MinTaskInterval:     time.Minute,
		MaxDecisionHistory:  100,
		MaxConcurrentCycles: 2,
		DefaultCooldown:     15 * time.Minute,
		Cooldowns:           map[string]time.Duration{},
	}
}

func newTestEngine(c *tasks.Catalog, opts ...Option) *Engine {
	base := []Option{
		WithConfig(testSelection()),
		WithLogger(logging.Nop()),
	}
	return New(c, append(base, opts...)...)
}

func mustRegister(t *testing.T, e *Engine, id string, p personality.Profile) {
	t.Helper()
	if err := e.Register(context.Background(), id, p); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
}

func ptr(v float64) *float64 { return &v }

func configAgent(id, risk string) config.AgentConfig {
	return config.AgentConfig{
		ID:          id,
		Personality: config.PersonalityConfig{RiskProfile: risk},
	}
}
