// Package detect implements the acquisition engine. It reuses the persisted record while the
// instance is unchanged and otherwise walks the configured datasources in priority order until
// one yields valid metadata.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/datasource"
	"github.com/tinkerbell/sprout/internal/metadata"
	"github.com/tinkerbell/sprout/internal/metrics"
	"github.com/tinkerbell/sprout/internal/state"
)

//go:generate mockgen -destination mock.go -package detect . Registry,Store

// Registry is the set of candidates the engine walks. *datasource.Registry implements it.
type Registry interface {
	Candidates() []datasource.Candidate
	Probe(ctx context.Context, c datasource.Candidate) datasource.Attempt
	Normalize(c datasource.Candidate, raw datasource.Raw) (metadata.Metadata, error)
	Identify(ctx context.Context, k datasource.Kind) (string, error)
}

// Store persists the outcome of a detection. *state.Store implements it.
type Store interface {
	LoadPrevious() *state.Record
	ShouldReuse(prev *state.Record, identity string) bool
	Persist(r state.Record) error
	HandleInstanceChange(prev *state.Record, freshID string) error
	WriteStatus(st state.Status) error
}

// Stage is a step of Acquire.
type Stage string

const (
	Idle        Stage = "idle"
	CacheCheck  Stage = "cache-check"
	Probing     Stage = "probing"
	Normalizing Stage = "normalizing"
	Persisting  Stage = "persisting"
	Done        Stage = "done"
	Failed      Stage = "failed"
)

// ErrNoDatasource is matched by every *NoDatasourceError.
var ErrNoDatasource = errors.New("no datasource found")

// NoDatasourceError is returned when no candidate produced valid metadata before the deadline.
type NoDatasourceError struct {
	Attempts []datasource.Attempt

	// Cause is set when the walk was cut short, usually by the deadline.
	Cause error
}

func (e *NoDatasourceError) Error() string {
	msg := fmt.Sprintf("%v after %d attempt(s)", ErrNoDatasource, len(e.Attempts))
	for _, a := range e.Attempts {
		msg += fmt.Sprintf("; %v: %v", a.Kind, a.Outcome)
		if a.Reason != "" {
			msg += " (" + a.Reason + ")"
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NoDatasourceError) Is(target error) bool {
	return target == ErrNoDatasource
}

func (e *NoDatasourceError) Unwrap() error {
	return e.Cause
}

// Result is the outcome of a successful Acquire.
type Result struct {
	Metadata   metadata.Metadata
	Datasource datasource.Kind

	// FromCache is true when the persisted record was reused without probing.
	FromCache bool

	// NewInstance is true when the instance-id differs from the previously persisted one, or
	// nothing was persisted before.
	NewInstance bool

	Attempts []datasource.Attempt
}

// Engine acquires instance metadata. Acquire must not be called concurrently.
type Engine struct {
	log      logr.Logger
	registry Registry
	store    Store
	clock    clock.Clock
	metrics  *metrics.Agent
	deadline time.Duration

	mu    sync.Mutex
	stage Stage
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the real clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDeadline bounds a whole Acquire. Zero means no bound.
func WithDeadline(d time.Duration) Option {
	return func(e *Engine) { e.deadline = d }
}

// WithMetrics records detection metrics to m.
func WithMetrics(m *metrics.Agent) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(logger logr.Logger, registry Registry, store Store, opts ...Option) *Engine {
	e := &Engine{
		log:      logger,
		registry: registry,
		store:    store,
		clock:    clock.New(),
		stage:    Idle,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Stage returns the current stage.
func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

func (e *Engine) enter(s Stage, keysAndValues ...interface{}) {
	e.mu.Lock()
	e.stage = s
	e.mu.Unlock()

	e.log.V(1).Info("Entering stage", append([]interface{}{"stage", s}, keysAndValues...)...)
}

// Acquire returns the metadata of the current instance. A previously persisted record is
// returned when the local identity of the instance is unchanged. Otherwise candidates are probed
// in priority order and the first to produce valid metadata is persisted and returned.
func (e *Engine) Acquire(ctx context.Context) (Result, error) {
	started := e.clock.Now()

	if e.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deadline)
		defer cancel()
	}

	e.enter(CacheCheck)

	prev := e.store.LoadPrevious()
	if prev != nil {
		if res, ok := e.reuse(ctx, prev); ok {
			e.finish(started, res, nil)
			return res, nil
		}
	}

	res, err := e.walk(ctx, prev)
	e.finish(started, res, err)

	return res, err
}

func (e *Engine) reuse(ctx context.Context, prev *state.Record) (Result, bool) {
	kind, err := datasource.ParseKind(prev.Datasource)
	if err != nil {
		e.log.Info("Ignoring record from unknown datasource", "datasource", prev.Datasource)
		return Result{}, false
	}

	identity, err := e.registry.Identify(ctx, kind)
	if err != nil {
		e.log.V(1).Info("Could not identify instance locally", "datasource", kind, "error", err.Error())
		identity = ""
	}

	if !e.store.ShouldReuse(prev, identity) {
		e.log.V(1).Info("Persisted record not reusable", "datasource", kind, "instance_id", prev.InstanceID)
		return Result{}, false
	}

	e.metrics.ObserveCacheHit()
	e.log.Info("Reusing persisted metadata", "datasource", kind, "instance_id", prev.InstanceID)

	return Result{
		Metadata:   prev.Metadata,
		Datasource: kind,
		FromCache:  true,
	}, true
}

func (e *Engine) walk(ctx context.Context, prev *state.Record) (Result, error) {
	var attempts []datasource.Attempt

	for _, c := range e.registry.Candidates() {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts}, &NoDatasourceError{Attempts: attempts, Cause: err}
		}

		e.enter(Probing, "datasource", c.Kind)
		a := e.registry.Probe(ctx, c)
		if a.Outcome != datasource.Found {
			attempts = append(attempts, a)
			continue
		}

		e.enter(Normalizing, "datasource", c.Kind)
		md, err := e.registry.Normalize(c, a.Raw)
		if err != nil {
			e.log.Info("Discarding malformed payload", "datasource", c.Kind, "error", err.Error())
			a.Outcome = datasource.NotApplicable
			a.Reason = err.Error()
			a.Raw = nil
			attempts = append(attempts, a)
			continue
		}
		attempts = append(attempts, a)

		e.enter(Persisting, "datasource", c.Kind, "instance_id", md.InstanceID)
		res := Result{
			Metadata:    md,
			Datasource:  c.Kind,
			NewInstance: prev == nil || prev.InstanceID != md.InstanceID,
			Attempts:    attempts,
		}
		if err := e.persist(ctx, c, md, prev); err != nil {
			return Result{Attempts: attempts}, err
		}

		e.log.Info("Acquired metadata", "datasource", c.Kind, "instance_id", md.InstanceID, "new_instance", res.NewInstance)

		return res, nil
	}

	err := &NoDatasourceError{Attempts: attempts}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err.Cause = ctxErr
	}
	return Result{Attempts: attempts}, err
}

func (e *Engine) persist(ctx context.Context, c datasource.Candidate, md metadata.Metadata, prev *state.Record) error {
	if prev != nil && prev.InstanceID != md.InstanceID {
		if err := e.store.HandleInstanceChange(prev, md.InstanceID); err != nil {
			return fmt.Errorf("handle instance change: %w", err)
		}
	}

	identity, err := e.registry.Identify(ctx, c.Kind)
	if err != nil {
		e.log.V(1).Info("Could not identify instance locally, record will not be reused", "datasource", c.Kind, "error", err.Error())
		identity = ""
	}

	rec := state.Record{
		Datasource: string(c.Kind),
		InstanceID: md.InstanceID,
		Identity:   identity,
		Metadata:   md,
		FetchedAt:  e.clock.Now().UTC(),
	}
	if err := e.store.Persist(rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}

	return nil
}

func (e *Engine) finish(started time.Time, res Result, err error) {
	stage := Done
	if err != nil {
		stage = Failed
	}
	e.enter(stage)

	finished := e.clock.Now()
	e.metrics.ObserveDetection(string(stage), finished.Sub(started))

	st := state.Status{
		Stage:      string(stage),
		Datasource: string(res.Datasource),
		InstanceID: res.Metadata.InstanceID,
		FromCache:  res.FromCache,
		Started:    started.UTC(),
		Finished:   finished.UTC(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	for _, a := range res.Attempts {
		st.Attempts = append(st.Attempts, state.AttemptStatus{
			Datasource: string(a.Kind),
			Outcome:    a.Outcome.String(),
			Reason:     a.Reason,
			Time:       a.Time.UTC(),
		})
	}

	if err := e.store.WriteStatus(st); err != nil {
		e.log.Error(err, "Writing status")
	}
}
