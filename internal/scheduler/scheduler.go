// Package scheduler runs keyed recurring jobs, one cron entry per key.
// Each key fires on its own interval; keys never fire in lock-step.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/taskpilot/internal/logging"
)

// Errors returned by the scheduler.
var (
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrNotRunning      = errors.New("scheduler not running")
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrDuplicateKey    = errors.New("job already scheduled")
	ErrUnknownKey      = errors.New("no job scheduled for key")
)

// Job is invoked on every tick with the scheduler's run context.
type Job func(ctx context.Context)

type entry struct {
	id       cron.EntryID
	interval time.Duration
}

// Scheduler manages keyed interval jobs.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]entry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger. Cron's own log lines go to it too.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		entries: make(map[string]entry),
		logger:  logging.Component("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{l: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Add schedules job to run every interval under key. Jobs may be added
// before or after Start.
func (s *Scheduler) Add(key string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		job(ctx)
	}))
	s.entries[key] = entry{id: id, interval: interval}

	s.logger.DebugCtx("job scheduled", map[string]any{
		"key":      key,
		"interval": interval.String(),
	})
	return nil
}

// Remove unschedules key. A run already in progress is not interrupted.
func (s *Scheduler) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	s.cron.Remove(e.id)
	delete(s.entries, key)
	return nil
}

// Start begins firing jobs. Jobs receive a context derived from ctx that
// is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	s.logger.InfoCtx("scheduler started", map[string]any{"jobs": len(s.entries)})
	return nil
}

// Stop halts the timers and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	done := s.cron.Stop()
	s.mu.Unlock()

	defer cancel()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for jobs")
		return ctx.Err()
	}
}

// IsRunning reports whether the timers are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next fire time for key, or zero if the key is
// unknown or the scheduler is stopped.
func (s *Scheduler) NextRun(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// Interval returns the interval key was scheduled with.
func (s *Scheduler) Interval(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.interval, ok
}

// Keys returns the scheduled keys in sorted order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cronLogger adapts the package logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.DebugCtx("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = fmt.Sprint(err)
	c.l.ErrorCtx("cron: "+msg, fields)
}

func kvFields(kv []interface{}) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
