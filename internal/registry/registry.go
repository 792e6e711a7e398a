// Package registry owns the fryer state: it loads it from a blob store, keeps it in
// memory behind one lock and writes it back after every mutation.
//
// Mutations and saves serialize on the same mutex, so two concurrent submissions can
// never drop each other's change. Queries take the read lock and receive deep copies.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
	"boilbot/internal/storage"
	logx "boilbot/pkg/logx"
)

var (
	// ErrNotFound is returned when no unit carries the requested name. Nothing changed.
	ErrNotFound = errors.New("unit not found")
	// ErrDuplicate is returned by Register under DuplicatesReject.
	ErrDuplicate = errors.New("unit name already registered")
	// ErrPersistence is returned when the state could not be written after every retry.
	// The in-memory change stays applied.
	ErrPersistence = errors.New("state not persisted")
	// ErrInvalidInput covers empty names and non-positive cadences.
	ErrInvalidInput = errors.New("invalid input")
)

// DuplicatePolicy decides what Register does with a name already in use.
type DuplicatePolicy string

const (
	DuplicatesAllow  DuplicatePolicy = "allow"
	DuplicatesReject DuplicatePolicy = "reject"
)

// RetryPolicy bounds load and save attempts.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy { return RetryPolicy{Attempts: 3} }

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return 3
	}
	return p.Attempts
}

// Observer receives persistence outcomes. Implementations must not call back into
// the registry.
type Observer interface {
	LoadRecovered(reason error)
	SaveCompleted(attempts int, err error)
}

type Options struct {
	Store      storage.BlobStore
	Calendar   calendar.Calendar
	Retry      RetryPolicy
	Duplicates DuplicatePolicy
	Observer   Observer
	Log        logx.Logger
}

type Registry struct {
	store storage.BlobStore
	proj  equipment.Projector
	log   logx.Logger
	obs   Observer

	mu    sync.RWMutex
	state equipment.State
	retry RetryPolicy
	dups  DuplicatePolicy
}

func New(opts Options) *Registry {
	retry := opts.Retry
	if retry.Attempts <= 0 {
		retry.Attempts = DefaultRetryPolicy().Attempts
	}
	dups := opts.Duplicates
	if dups == "" {
		dups = DuplicatesAllow
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store: opts.Store,
		proj:  equipment.Projector{Calendar: opts.Calendar},
		log:   log,
		obs:   opts.Observer,
		state: equipment.DefaultState(),
		retry: retry,
		dups:  dups,
	}
}

// SetRetryPolicy swaps the policy used by subsequent loads and saves.
func (r *Registry) SetRetryPolicy(p RetryPolicy) {
	r.mu.Lock()
	r.retry = p
	r.mu.Unlock()
}

func (r *Registry) SetDuplicatePolicy(p DuplicatePolicy) {
	r.mu.Lock()
	r.dups = p
	r.mu.Unlock()
}

// Load replaces the in-memory state with the stored one.
//
// An absent or malformed blob is overwritten with the default state and read back
// within the same attempt. Other read errors are retried without overwriting anything.
// If every attempt fails the previous state is kept and the last cause is returned.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := r.read(ctx)
		if errors.Is(err, storage.ErrNotExist) || errors.Is(err, equipment.ErrMalformedState) {
			r.log.Warn("state unusable, writing defaults", logx.Int("attempt", attempt), logx.Err(err))
			if r.obs != nil {
				r.obs.LoadRecovered(err)
			}
			// The read-back belongs to the same attempt so a bound of 1 still recovers.
			if werr := r.writeDefault(ctx); werr != nil {
				r.log.Warn("writing default state failed", logx.Err(werr))
			} else {
				st, err = r.read(ctx)
			}
		}
		if err == nil {
			r.refreshAll(&st)
			r.state = st
			r.log.Info("state loaded", logx.Int("units", len(st.Units)), logx.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		r.log.Warn("state load failed", logx.Int("attempt", attempt), logx.Err(err))
		if attempt < n && !r.sleep(ctx) {
			return ctx.Err()
		}
	}
	r.log.Error("state load gave up, keeping last good state", logx.Int("attempts", n), logx.Err(lastErr))
	return fmt.Errorf("load gave up after %d attempts: %w", n, lastErr)
}

func (r *Registry) read(ctx context.Context) (equipment.State, error) {
	b, err := r.store.Read(ctx)
	if err != nil {
		return equipment.State{}, err
	}
	return equipment.Decode(b)
}

func (r *Registry) writeDefault(ctx context.Context) error {
	b, err := equipment.Encode(equipment.DefaultState())
	if err != nil {
		return err
	}
	return r.store.Write(ctx, b)
}

// refreshAll recomputes every cache; persisted caches are never trusted.
func (r *Registry) refreshAll(st *equipment.State) {
	for i := range st.Units {
		if err := r.proj.Refresh(&st.Units[i], st.Cadence); err != nil {
			r.log.Warn("unit has no cadence", logx.String("unit", st.Units[i].Name), logx.Stringer("type", st.Units[i].Type), logx.Err(err))
		}
	}
}

// Save writes the current state, retrying up to the policy bound.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx)
}

// save requires r.mu held for writing.
func (r *Registry) save(ctx context.Context) error {
	b, err := equipment.Encode(r.state)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}

	n := r.retry.attempts()
	var lastErr error
	attempt := 0
	for attempt < n {
		attempt++
		if lastErr = r.store.Write(ctx, b); lastErr == nil {
			break
		}
		r.log.Warn("state save failed", logx.Int("attempt", attempt), logx.Err(lastErr))
		if attempt < n && !r.sleep(ctx) {
			lastErr = ctx.Err()
			break
		}
	}
	if r.obs != nil {
		r.obs.SaveCompleted(attempt, lastErr)
	}
	if lastErr != nil {
		r.log.Error("state not persisted", logx.Int("attempts", attempt), logx.Err(lastErr))
		return fmt.Errorf("%w after %d attempts: %w", ErrPersistence, attempt, lastErr)
	}
	return nil
}

func (r *Registry) sleep(ctx context.Context) bool {
	if r.retry.Backoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(r.retry.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Snapshot returns a deep copy of the current state.
func (r *Registry) Snapshot() equipment.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

func (r *Registry) Units() []equipment.Unit {
	return r.Snapshot().Units
}

// FindByName returns a copy of the first unit named name.
func (r *Registry) FindByName(name string) (equipment.Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.state.Find(name)
	if i < 0 {
		return equipment.Unit{}, false
	}
	return r.state.Units[i].Clone(), true
}
