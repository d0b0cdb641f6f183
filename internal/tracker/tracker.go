// Package tracker keeps an identity map of entities with their staged
// state and writes the staged changes through a Writer.
package tracker

import (
	"context"
	"fmt"
	"slices"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/mapping"
)

// State is the staged state of a tracked entity.
type State int

const (
	Detached State = iota
	Added
	Unchanged
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Added:
		return "added"
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "detached"
	}
}

// Writer applies flushed changes to storage.
type Writer[T any] interface {
	// Insert stores a new entity and returns its key.
	Insert(ctx context.Context, entity *T, values map[string]any) (int64, error)
	// Update writes the given column values of the row identified by key.
	Update(ctx context.Context, entity *T, key int64, values map[string]any) error
	Delete(ctx context.Context, key int64) error
}

type entry struct {
	state State
	// snapshot holds the stored column values; nil when unknown.
	snapshot map[string]any
}

// Tracker is an identity map for one entity type. It is not safe for
// concurrent use.
type Tracker[T any] struct {
	mapping     *mapping.Mapping[T]
	fullUpdates bool

	entries map[*T]*entry
	order   []*T
	byKey   map[int64]*T
	undo    []func()
}

type Option func(*options)

type options struct {
	fullUpdates bool
}

// WithFullUpdates makes Flush write every column of a changed entity
// instead of only the changed ones.
func WithFullUpdates() Option {
	return func(o *options) { o.fullUpdates = true }
}

func New[T any](m *mapping.Mapping[T], opts ...Option) *Tracker[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Tracker[T]{
		mapping:     m,
		fullUpdates: o.fullUpdates,
		entries:     make(map[*T]*entry),
		byKey:       make(map[int64]*T),
	}
}

// Mapping returns the column mapping the tracker diffs with.
func (t *Tracker[T]) Mapping() *mapping.Mapping[T] { return t.mapping }

// State returns the staged state of entity, Detached when untracked.
func (t *Tracker[T]) State(entity *T) State {
	if e, ok := t.entries[entity]; ok {
		return e.state
	}
	return Detached
}

// Len returns the number of tracked entities.
func (t *Tracker[T]) Len() int { return len(t.entries) }

// Add stages entity for insertion. Tracked entities are left as they are.
func (t *Tracker[T]) Add(entity *T) {
	if _, ok := t.entries[entity]; ok {
		return
	}
	t.track(entity, &entry{state: Added})
}

// Attach starts tracking an entity that already exists in storage. With
// state Unchanged the current values become the snapshot; with Modified
// the whole row is written on the next flush.
func (t *Tracker[T]) Attach(entity *T, state State) error {
	if _, ok := t.entries[entity]; ok {
		return nil
	}
	key := t.mapping.KeyOf(entity)
	if key == 0 {
		return domain.ErrEntityNotPersisted
	}
	if other, ok := t.byKey[key]; ok && other != entity {
		return domain.NewDomainErrorWithCause(domain.ErrCodeInvalidOperation, "another instance with the same key is already tracked",
			fmt.Errorf("%s key %d", t.mapping.Table(), key))
	}
	e := &entry{state: state}
	if state == Unchanged {
		e.snapshot = t.mapping.Values(entity)
	}
	t.track(entity, e)
	return nil
}

// Remove stages entity for deletion. Staged inserts are simply forgotten.
func (t *Tracker[T]) Remove(entity *T) error {
	e, ok := t.entries[entity]
	if !ok {
		return domain.ErrEntityNotTracked
	}
	switch e.state {
	case Added:
		t.forget(entity)
	case Unchanged, Modified:
		e.state = Deleted
	}
	return nil
}

// Restore cancels a staged deletion; entity is written in full on the next
// flush. Entities in any other state are left as they are.
func (t *Tracker[T]) Restore(entity *T) {
	if e, ok := t.entries[entity]; ok && e.state == Deleted {
		e.state = Modified
	}
}

// Resolve maps a freshly loaded row to the tracked instance with the same
// key, attaching loaded when there is none. The second result is false
// when the tracked instance is staged for deletion.
func (t *Tracker[T]) Resolve(loaded *T) (*T, bool) {
	key := t.mapping.KeyOf(loaded)
	if tracked, ok := t.byKey[key]; ok {
		return tracked, t.entries[tracked].state != Deleted
	}
	t.track(loaded, &entry{state: Unchanged, snapshot: t.mapping.Values(loaded)})
	return loaded, true
}

// Reload overwrites entity with the stored row fresh and marks it Unchanged.
func (t *Tracker[T]) Reload(entity, fresh *T) {
	t.mapping.Copy(entity, fresh)
	if e, ok := t.entries[entity]; ok {
		e.state = Unchanged
		e.snapshot = t.mapping.Values(entity)
		return
	}
	t.track(entity, &entry{state: Unchanged, snapshot: t.mapping.Values(entity)})
}

// Detach stops tracking entity.
func (t *Tracker[T]) Detach(entity *T) {
	if _, ok := t.entries[entity]; ok {
		t.forget(entity)
	}
}

// DropAdded forgets every staged insert.
func (t *Tracker[T]) DropAdded() {
	for _, entity := range slices.Clone(t.order) {
		if t.entries[entity].state == Added {
			t.forget(entity)
		}
	}
}

// Tracked returns the tracked entities that are not staged for deletion,
// in tracking order.
func (t *Tracker[T]) Tracked() []*T {
	out := make([]*T, 0, len(t.order))
	for _, entity := range t.order {
		if t.entries[entity].state != Deleted {
			out = append(out, entity)
		}
	}
	return out
}

// InState returns the tracked entities in state s, in tracking order.
func (t *Tracker[T]) InState(s State) []*T {
	var out []*T
	for _, entity := range t.order {
		if t.entries[entity].state == s {
			out = append(out, entity)
		}
	}
	return out
}

// Lookup returns the tracked instance with the given key.
func (t *Tracker[T]) Lookup(key int64) (*T, bool) {
	entity, ok := t.byKey[key]
	return entity, ok
}

// HasChanges reports whether a Flush would write anything.
func (t *Tracker[T]) HasChanges() bool {
	for _, entity := range t.order {
		e := t.entries[entity]
		switch e.state {
		case Added, Modified, Deleted:
			return true
		case Unchanged:
			if len(t.mapping.Diff(e.snapshot, t.mapping.Values(entity))) > 0 {
				return true
			}
		}
	}
	return false
}

// Flush writes every staged change through w and records how to undo the
// in-memory effects. Call Accept once the writes are durable, or Revert
// when the surrounding transaction rolled back.
func (t *Tracker[T]) Flush(ctx context.Context, w Writer[T]) error {
	for _, entity := range slices.Clone(t.order) {
		e, ok := t.entries[entity]
		if !ok {
			continue
		}
		var err error
		switch e.state {
		case Added:
			err = t.flushInsert(ctx, w, entity, e)
		case Unchanged, Modified:
			err = t.flushUpdate(ctx, w, entity, e)
		case Deleted:
			err = t.flushDelete(ctx, w, entity, e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker[T]) flushInsert(ctx context.Context, w Writer[T], entity *T, e *entry) error {
	values := t.mapping.Values(entity)
	prevKey := t.mapping.KeyOf(entity)

	key, err := w.Insert(ctx, entity, values)
	if err != nil {
		return err
	}

	t.mapping.SetKey(entity, key)
	e.state = Unchanged
	e.snapshot = values
	t.byKey[key] = entity
	t.undo = append(t.undo, func() {
		delete(t.byKey, key)
		t.mapping.SetKey(entity, prevKey)
		e.state = Added
		e.snapshot = nil
	})
	return nil
}

func (t *Tracker[T]) flushUpdate(ctx context.Context, w Writer[T], entity *T, e *entry) error {
	current := t.mapping.Values(entity)

	var columns []string
	switch {
	case e.state == Modified || e.snapshot == nil:
		columns = t.mapping.Columns()
	case t.fullUpdates:
		if len(t.mapping.Diff(e.snapshot, current)) > 0 {
			columns = t.mapping.Columns()
		}
	default:
		columns = t.mapping.Diff(e.snapshot, current)
	}
	if len(columns) == 0 {
		return nil
	}

	values := make(map[string]any, len(columns))
	for _, c := range columns {
		values[c] = current[c]
	}
	if err := w.Update(ctx, entity, t.mapping.KeyOf(entity), values); err != nil {
		return err
	}

	prevState, prevSnapshot := e.state, e.snapshot
	e.state = Unchanged
	e.snapshot = current
	t.undo = append(t.undo, func() {
		e.state = prevState
		e.snapshot = prevSnapshot
	})
	return nil
}

func (t *Tracker[T]) flushDelete(ctx context.Context, w Writer[T], entity *T, e *entry) error {
	key := t.mapping.KeyOf(entity)
	if err := w.Delete(ctx, key); err != nil {
		return err
	}

	pos := slices.Index(t.order, entity)
	t.forget(entity)
	t.undo = append(t.undo, func() {
		t.entries[entity] = e
		t.byKey[key] = entity
		t.order = slices.Insert(t.order, min(pos, len(t.order)), entity)
	})
	return nil
}

// Accept makes the flushed changes permanent.
func (t *Tracker[T]) Accept() {
	t.undo = nil
}

// Revert undoes the in-memory effects of every Flush since the last Accept:
// assigned keys are reset and flushed entries regain their staged state.
func (t *Tracker[T]) Revert() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// Discard reverts, then drops every staged change: inserts are forgotten,
// deletions are cancelled and tracked fields are restored from their last
// stored snapshot. Entities attached as Modified have no snapshot and are
// detached.
func (t *Tracker[T]) Discard() {
	t.Revert()
	for _, entity := range slices.Clone(t.order) {
		e := t.entries[entity]
		switch {
		case e.state == Added:
			t.forget(entity)
		case e.snapshot == nil:
			t.forget(entity)
		default:
			t.mapping.Apply(entity, e.snapshot)
			e.state = Unchanged
		}
	}
}

// Clear forgets every tracked entity.
func (t *Tracker[T]) Clear() {
	t.entries = make(map[*T]*entry)
	t.byKey = make(map[int64]*T)
	t.order = nil
	t.undo = nil
}

func (t *Tracker[T]) track(entity *T, e *entry) {
	t.entries[entity] = e
	t.order = append(t.order, entity)
	if e.state != Added {
		t.byKey[t.mapping.KeyOf(entity)] = entity
	}
}

func (t *Tracker[T]) forget(entity *T) {
	e := t.entries[entity]
	delete(t.entries, entity)
	if e != nil && e.state != Added {
		key := t.mapping.KeyOf(entity)
		if t.byKey[key] == entity {
			delete(t.byKey, key)
		}
	}
	if i := slices.Index(t.order, entity); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}
