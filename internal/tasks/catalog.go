package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marcus/taskpilot/internal/logging"
)

// ErrNoFactory is returned when a catalog entry has no implementation bound.
var ErrNoFactory = errors.New("no task implementation registered")

// Entry binds a definition to the factory that builds its implementation.
type Entry struct {
	Definition Definition
	Factory    Factory
}

// Candidate is a catalog task ready for evaluation.
type Candidate struct {
	Definition Definition
	Metadata   Metadata
}

// Catalog is the registry of candidate tasks, resolved at startup.
type Catalog struct {
	mu       sync.RWMutex
	entries  []Entry
	index    map[TaskType]int
	disabled map[TaskType]bool
	logger   *logging.Logger
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(l *logging.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = l
	}
}

// NewCatalog creates an empty catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		index:    make(map[TaskType]int),
		disabled: make(map[TaskType]bool),
		logger:   logging.Component("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds an entry. Registering a type twice is an error.
func (c *Catalog) Register(e Entry) error {
	if e.Definition.Type == "" {
		return errors.New("task type is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[e.Definition.Type]; ok {
		return fmt.Errorf("task type %q already registered", e.Definition.Type)
	}
	c.index[e.Definition.Type] = len(c.entries)
	c.entries = append(c.entries, e)
	return nil
}

// Bind attaches a factory to an already registered type.
func (c *Catalog) Bind(t TaskType, f Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[t]
	if !ok {
		return fmt.Errorf("unknown task type: %s", t)
	}
	c.entries[i].Factory = f
	return nil
}

// Disable excludes task types from candidate listing.
func (c *Catalog) Disable(types ...TaskType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		c.disabled[t] = true
	}
}

// Definitions returns all registered definitions in registration order.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]Definition, len(c.entries))
	for i, e := range c.entries {
		defs[i] = e.Definition
	}
	return defs
}

// Len returns the number of registered entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load instantiates the implementation for a task type.
func (c *Catalog) Load(t TaskType) (Runnable, error) {
	c.mu.RLock()
	i, ok := c.index[t]
	var f Factory
	if ok {
		f = c.entries[i].Factory
	}
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown task type: %s", t)
	}
	if f == nil {
		return nil, fmt.Errorf("%s: %w", t, ErrNoFactory)
	}
	r, err := build(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", t, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: factory returned nil", t)
	}
	return r, nil
}

// build runs a factory, turning a panic into an error.
func build(f Factory) (r Runnable, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("factory panic: %v", p)
		}
	}()
	return f()
}

// Candidates loads every enabled entry and resolves its metadata.
// Entries that fail to load are omitted with a warning; entries that fail to
// describe themselves fall back to DefaultMetadata.
func (c *Catalog) Candidates(ctx context.Context) []Candidate {
	c.mu.RLock()
	defs := make([]Definition, 0, len(c.entries))
	for _, e := range c.entries {
		if !c.disabled[e.Definition.Type] {
			defs = append(defs, e.Definition)
		}
	}
	c.mu.RUnlock()

	out := make([]Candidate, 0, len(defs))
	for _, def := range defs {
		r, err := c.Load(def.Type)
		if err != nil {
			c.logger.WarnCtx("task unavailable, skipping", map[string]any{
				"task_type": string(def.Type),
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, Candidate{Definition: def, Metadata: c.describe(ctx, def, r)})
	}
	return out
}

func (c *Catalog) describe(ctx context.Context, def Definition, r Runnable) (md Metadata) {
	mp, ok := r.(MetadataProvider)
	if !ok {
		return DefaultMetadata(def)
	}

	defer func() {
		if p := recover(); p != nil {
			c.logger.WarnCtx("task metadata panicked, using defaults", map[string]any{
				"task_type": string(def.Type),
				"panic":     fmt.Sprint(p),
			})
			md = DefaultMetadata(def)
		}
	}()

	md, err := mp.Metadata(ctx)
	if err != nil {
		c.logger.DebugCtx("task metadata unavailable, using defaults", map[string]any{
			"task_type": string(def.Type),
			"error":     err.Error(),
		})
		return DefaultMetadata(def)
	}
	if md.EstimatedDuration == "" {
		md.EstimatedDuration = def.EstimatedDuration
	}
	md.ValueScore = clamp01(md.ValueScore)
	return md
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
