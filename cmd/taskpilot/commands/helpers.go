package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/db"
	"github.com/marcus/taskpilot/internal/logging"
	"github.com/marcus/taskpilot/internal/metrics"
	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/selector"
	"github.com/marcus/taskpilot/internal/state"
	"github.com/marcus/taskpilot/internal/tasks"
)

var errUnboundTask = errors.New("task has no command configured")

// buildCatalog registers the built-in definitions, binds configured
// commands, and applies the disabled list.
func buildCatalog(cfg *config.Config, runner tasks.CommandRunner) (*tasks.Catalog, error) {
	catalog := tasks.NewCatalog(tasks.WithCatalogLogger(logging.Component("catalog")))
	for _, def := range tasks.Builtins() {
		if err := catalog.Register(tasks.Entry{Definition: def}); err != nil {
			return nil, err
		}
	}

	types := make([]string, 0, len(cfg.Tasks.Commands))
	for t := range cfg.Tasks.Commands {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		c := cfg.Tasks.Commands[t]
		spec := tasks.CommandSpec{
			Command:      c.Command,
			Args:         c.Args,
			MetadataArgs: c.MetadataArgs,
			WorkDir:      c.WorkDir,
		}
		if err := catalog.Bind(tasks.TaskType(t), tasks.CommandFactory(spec, runner)); err != nil {
			return nil, fmt.Errorf("tasks.commands.%s: %w", t, err)
		}
	}

	for _, t := range cfg.Tasks.Disabled {
		catalog.Disable(tasks.TaskType(t))
	}
	return catalog, nil
}

// bindPlaceholders gives every unbound entry a runnable that describes
// itself from its definition but refuses to run. Preview uses it so the
// whole catalog is ranked even before commands are configured.
func bindPlaceholders(catalog *tasks.Catalog, cfg *config.Config) []tasks.TaskType {
	var bound []tasks.TaskType
	for _, def := range catalog.Definitions() {
		if _, ok := cfg.Tasks.Commands[string(def.Type)]; ok {
			continue
		}
		_ = catalog.Bind(def.Type, func() (tasks.Runnable, error) { return unboundTask{}, nil })
		bound = append(bound, def.Type)
	}
	return bound
}

type unboundTask struct{}

func (unboundTask) Run(context.Context) (*tasks.Result, error) {
	return nil, errUnboundTask
}

func openJournal(cfg *config.Config) (*db.DB, *state.Journal, error) {
	database, err := db.Open(cfg.ExpandedDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening db: %w", err)
	}
	journal, err := state.New(database)
	if err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	return database, journal, nil
}

// buildEngine wires the journal and metrics into a selection engine.
// journal and m may be nil.
func buildEngine(cfg *config.Config, catalog *tasks.Catalog, journal *state.Journal, m *metrics.Metrics) *selector.Engine {
	opts := []selector.Option{
		selector.WithConfig(cfg.Selection),
		selector.WithLogger(logging.Component("selector")),
	}
	if journal != nil {
		opts = append(opts,
			selector.WithHistoryLoader(journal),
			selector.WithEventHandler(journal.HandleEvent),
		)
	}
	if m != nil {
		opts = append(opts, selector.WithMetrics(m))
	}
	return selector.New(catalog, opts...)
}

// registerAgents registers every configured agent and records it in the
// journal. It stops at the first failure.
func registerAgents(ctx context.Context, cfg *config.Config, engine *selector.Engine, journal *state.Journal) error {
	for _, ac := range cfg.Agents {
		if err := engine.RegisterConfig(ctx, ac); err != nil {
			return err
		}
		if journal == nil {
			continue
		}
		snap, err := engine.Snapshot(ac.ID)
		if err != nil {
			return err
		}
		if err := journal.RecordAgent(ctx, ac.ID, snap.Profile, snap.Interval, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// agentProfile derives the profile and interval for a configured agent.
func agentProfile(cfg *config.Config, ac config.AgentConfig) (personality.Profile, time.Duration, error) {
	p, err := personality.Derive(ac)
	if err != nil {
		return personality.Profile{}, 0, fmt.Errorf("agent %s: %w", ac.ID, err)
	}
	return p, p.Interval(cfg.Selection.BaseInterval, cfg.Selection.MinTaskInterval), nil
}

func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d >= time.Second {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func formatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		return "in " + formatDuration(-d)
	}
	return formatDuration(d) + " ago"
}
