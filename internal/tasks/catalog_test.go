package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/marcus/taskpilot/internal/logging"
)

type stubTask struct {
	md    Metadata
	mdErr error
	panic bool
}

func (s *stubTask) Run(context.Context) (*Result, error) {
	return &Result{Success: true}, nil
}

func (s *stubTask) Metadata(context.Context) (Metadata, error) {
	if s.panic {
		panic("boom")
	}
	return s.md, s.mdErr
}

type plainTask struct{}

func (plainTask) Run(context.Context) (*Result, error) { return &Result{Success: true}, nil }

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	return NewCatalog(WithCatalogLogger(logging.Nop()))
}

func mustRegister(t *testing.T, c *Catalog, def Definition, f Factory) {
	t.Helper()
	if err := c.Register(Entry{Definition: def, Factory: f}); err != nil {
		t.Fatalf("Register(%s): %v", def.Type, err)
	}
}

func TestCatalogRegisterDuplicate(t *testing.T) {
	c := newTestCatalog(t)
	def := Definition{Type: "a"}
	mustRegister(t, c, def, nil)
	if err := c.Register(Entry{Definition: def}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if err := c.Register(Entry{}); err == nil {
		t.Error("expected error for empty type")
	}
}

func TestCandidatesOmitsUnloadable(t *testing.T) {
	c := newTestCatalog(t)
	mustRegister(t, c, Definition{Type: "ok"}, func() (Runnable, error) { return plainTask{}, nil })
	mustRegister(t, c, Definition{Type: "no-factory"}, nil)
	mustRegister(t, c, Definition{Type: "broken"}, func() (Runnable, error) { return nil, errors.New("missing binary") })
	mustRegister(t, c, Definition{Type: "nil"}, func() (Runnable, error) { return nil, nil })
	mustRegister(t, c, Definition{Type: "panics"}, func() (Runnable, error) { panic("loader blew up") })

	cands := c.Candidates(context.Background())
	if len(cands) != 1 || cands[0].Definition.Type != "ok" {
		t.Fatalf("Candidates() = %+v, want only 'ok'", cands)
	}
}

func TestCandidatesMetadataFallback(t *testing.T) {
	def := Definition{Type: "x", DefaultPriority: PriorityHigh, Risk: RiskHigh, EstimatedDuration: "long"}

	tests := []struct {
		name string
		task Runnable
		want Metadata
	}{
		{"no provider", plainTask{}, DefaultMetadata(def)},
		{"provider error", &stubTask{mdErr: errors.New("nope")}, DefaultMetadata(def)},
		{"provider panic", &stubTask{panic: true}, DefaultMetadata(def)},
		{
			"provider ok",
			&stubTask{md: Metadata{Priority: PriorityLow, ValueScore: 0.9, Risk: RiskLow, EstimatedDuration: "short"}},
			Metadata{Priority: PriorityLow, ValueScore: 0.9, Risk: RiskLow, EstimatedDuration: "short"},
		},
		{
			"provider clamps and fills duration",
			&stubTask{md: Metadata{Priority: PriorityMedium, ValueScore: 3}},
			Metadata{Priority: PriorityMedium, ValueScore: 1, EstimatedDuration: "long"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCatalog(t)
			task := tt.task
			mustRegister(t, c, def, func() (Runnable, error) { return task, nil })

			cands := c.Candidates(context.Background())
			if len(cands) != 1 {
				t.Fatalf("got %d candidates, want 1", len(cands))
			}
			if cands[0].Metadata != tt.want {
				t.Errorf("Metadata = %+v, want %+v", cands[0].Metadata, tt.want)
			}
		})
	}
}

func TestCatalogDisableAndBind(t *testing.T) {
	c := newTestCatalog(t)
	for _, def := range Builtins() {
		mustRegister(t, c, def, nil)
	}
	if got := len(c.Candidates(context.Background())); got != 0 {
		t.Fatalf("unbound catalog produced %d candidates", got)
	}

	factory := func() (Runnable, error) { return plainTask{}, nil }
	if err := c.Bind(TaskMarketResearch, factory); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(TaskGasOptimization, factory); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind("nope", factory); err == nil {
		t.Error("Bind on unknown type should fail")
	}
	c.Disable(TaskGasOptimization)

	cands := c.Candidates(context.Background())
	if len(cands) != 1 || cands[0].Definition.Type != TaskMarketResearch {
		t.Errorf("Candidates() = %+v, want only market-research", cands)
	}
	if c.Len() != len(Builtins()) {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestLoadErrors(t *testing.T) {
	c := newTestCatalog(t)
	mustRegister(t, c, Definition{Type: "unbound"}, nil)

	if _, err := c.Load("unbound"); !errors.Is(err, ErrNoFactory) {
		t.Errorf("Load(unbound) error = %v, want ErrNoFactory", err)
	}
	if _, err := c.Load("missing"); err == nil {
		t.Error("Load(missing) should fail")
	}

	mustRegister(t, c, Definition{Type: "panics"}, func() (Runnable, error) { panic("loader blew up") })
	if r, err := c.Load("panics"); err == nil || r != nil {
		t.Errorf("Load(panics) = %v, %v; want nil, error", r, err)
	}
}
