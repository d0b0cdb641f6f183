package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op     string
	key    int64
	values map[string]any
}

type fakeWriter struct {
	nextKey  int64
	calls    []call
	failOn   string
	failWith error
}

func (w *fakeWriter) Insert(_ context.Context, _ *domain.Note, values map[string]any) (int64, error) {
	if w.failOn == "insert" {
		return 0, w.failWith
	}
	w.nextKey++
	w.calls = append(w.calls, call{op: "insert", key: w.nextKey, values: values})
	return w.nextKey, nil
}

func (w *fakeWriter) Update(_ context.Context, _ *domain.Note, key int64, values map[string]any) error {
	if w.failOn == "update" {
		return w.failWith
	}
	w.calls = append(w.calls, call{op: "update", key: key, values: values})
	return nil
}

func (w *fakeWriter) Delete(_ context.Context, key int64) error {
	if w.failOn == "delete" {
		return w.failWith
	}
	w.calls = append(w.calls, call{op: "delete", key: key})
	return nil
}

func newTracker(opts ...Option) *Tracker[domain.Note] {
	return New(mapping.MustNew[domain.Note]("notes", "id"), opts...)
}

func TestTracker_AddAndFlush(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}
	note := domain.NewNote("first", "body")

	tr.Add(note)
	tr.Add(note)
	assert.Equal(t, Added, tr.State(note))
	assert.Equal(t, 1, tr.Len())
	assert.True(t, tr.HasChanges())

	require.NoError(t, tr.Flush(ctx, w))
	tr.Accept()

	require.Len(t, w.calls, 1)
	assert.Equal(t, "insert", w.calls[0].op)
	assert.Equal(t, map[string]any{"title": "first", "body": "body"}, w.calls[0].values)
	assert.Equal(t, int64(1), note.ID)
	assert.Equal(t, Unchanged, tr.State(note))
	assert.False(t, tr.HasChanges())
}

func TestTracker_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}
	note := &domain.Note{ID: 7, Title: "old", Body: "same"}

	require.NoError(t, tr.Attach(note, Unchanged))
	require.NoError(t, tr.Flush(ctx, w))
	assert.Empty(t, w.calls)

	note.Title = "new"
	require.NoError(t, tr.Flush(ctx, w))

	require.Len(t, w.calls, 1)
	assert.Equal(t, call{op: "update", key: 7, values: map[string]any{"title": "new"}}, w.calls[0])
}

func TestTracker_FullUpdates(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(WithFullUpdates())
	w := &fakeWriter{}
	note := &domain.Note{ID: 7, Title: "old", Body: "same"}

	require.NoError(t, tr.Attach(note, Unchanged))
	note.Title = "new"
	require.NoError(t, tr.Flush(ctx, w))

	require.Len(t, w.calls, 1)
	assert.Equal(t, map[string]any{"title": "new", "body": "same"}, w.calls[0].values)
}

func TestTracker_AttachModifiedWritesAllColumns(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}
	note := &domain.Note{ID: 3, Title: "detached", Body: "edit"}

	require.NoError(t, tr.Attach(note, Modified))
	require.NoError(t, tr.Flush(ctx, w))

	require.Len(t, w.calls, 1)
	assert.Equal(t, "update", w.calls[0].op)
	assert.Len(t, w.calls[0].values, 2)
}

func TestTracker_AttachErrors(t *testing.T) {
	tr := newTracker()

	err := tr.Attach(domain.NewNote("transient", ""), Unchanged)
	assert.ErrorIs(t, err, domain.ErrEntityNotPersisted)

	require.NoError(t, tr.Attach(&domain.Note{ID: 1, Title: "a"}, Unchanged))
	err = tr.Attach(&domain.Note{ID: 1, Title: "b"}, Unchanged)
	assert.True(t, domain.HasCode(err, domain.ErrCodeInvalidOperation))
}

func TestTracker_Remove(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}

	err := tr.Remove(&domain.Note{ID: 1})
	assert.ErrorIs(t, err, domain.ErrEntityNotTracked)

	added := domain.NewNote("added", "")
	tr.Add(added)
	require.NoError(t, tr.Remove(added))
	assert.Equal(t, Detached, tr.State(added))

	stored := &domain.Note{ID: 4, Title: "stored"}
	require.NoError(t, tr.Attach(stored, Unchanged))
	require.NoError(t, tr.Remove(stored))
	require.NoError(t, tr.Remove(stored))
	assert.Equal(t, Deleted, tr.State(stored))
	assert.Empty(t, tr.Tracked())

	require.NoError(t, tr.Flush(ctx, w))
	require.Len(t, w.calls, 1)
	assert.Equal(t, call{op: "delete", key: 4}, w.calls[0])
	assert.Equal(t, Detached, tr.State(stored))
}

func TestTracker_RestoreCancelsDeletion(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}

	stored := &domain.Note{ID: 6, Title: "stored"}
	require.NoError(t, tr.Attach(stored, Unchanged))
	require.NoError(t, tr.Remove(stored))

	tr.Restore(stored)
	assert.Equal(t, Modified, tr.State(stored))

	require.NoError(t, tr.Flush(ctx, w))
	require.Len(t, w.calls, 1)
	assert.Equal(t, "update", w.calls[0].op)
}

func TestTracker_InStateAndLookup(t *testing.T) {
	tr := newTracker()
	a := domain.NewNote("a", "")
	b := domain.NewNote("b", "")
	stored := &domain.Note{ID: 8, Title: "stored"}
	tr.Add(a)
	tr.Add(b)
	require.NoError(t, tr.Attach(stored, Unchanged))

	assert.Equal(t, []*domain.Note{a, b}, tr.InState(Added))
	assert.Equal(t, []*domain.Note{stored}, tr.InState(Unchanged))
	assert.Empty(t, tr.InState(Deleted))

	got, ok := tr.Lookup(8)
	assert.True(t, ok)
	assert.Same(t, stored, got)
	_, ok = tr.Lookup(9)
	assert.False(t, ok)
}

func TestTracker_Resolve(t *testing.T) {
	tr := newTracker()
	tracked := &domain.Note{ID: 2, Title: "tracked"}
	require.NoError(t, tr.Attach(tracked, Unchanged))

	got, visible := tr.Resolve(&domain.Note{ID: 2, Title: "loaded copy"})
	assert.Same(t, tracked, got)
	assert.True(t, visible)

	fresh := &domain.Note{ID: 3, Title: "fresh"}
	got, visible = tr.Resolve(fresh)
	assert.Same(t, fresh, got)
	assert.True(t, visible)
	assert.Equal(t, Unchanged, tr.State(fresh))

	require.NoError(t, tr.Remove(tracked))
	_, visible = tr.Resolve(&domain.Note{ID: 2})
	assert.False(t, visible)
}

func TestTracker_Reload(t *testing.T) {
	tr := newTracker()
	note := &domain.Note{ID: 5, Title: "stored"}
	require.NoError(t, tr.Attach(note, Unchanged))
	note.Title = "edited"

	tr.Reload(note, &domain.Note{ID: 5, Title: "stored"})

	assert.Equal(t, "stored", note.Title)
	assert.Equal(t, Unchanged, tr.State(note))
	assert.False(t, tr.HasChanges())
}

func TestTracker_RevertAfterFailedFlush(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}

	inserted := domain.NewNote("inserted", "")
	deleted := &domain.Note{ID: 10, Title: "deleted"}
	updated := &domain.Note{ID: 11, Title: "before"}
	tr.Add(inserted)
	require.NoError(t, tr.Attach(deleted, Unchanged))
	require.NoError(t, tr.Attach(updated, Unchanged))
	require.NoError(t, tr.Remove(deleted))
	updated.Title = "after"

	require.NoError(t, tr.Flush(ctx, w))
	assert.Equal(t, int64(1), inserted.ID)

	tr.Revert()

	assert.Equal(t, int64(0), inserted.ID)
	assert.Equal(t, Added, tr.State(inserted))
	assert.Equal(t, Deleted, tr.State(deleted))
	assert.Equal(t, Unchanged, tr.State(updated))
	assert.Equal(t, "after", updated.Title)
	assert.True(t, tr.HasChanges())

	w2 := &fakeWriter{nextKey: 100}
	require.NoError(t, tr.Flush(ctx, w2))
	assert.Len(t, w2.calls, 3)
	assert.Equal(t, int64(101), inserted.ID)
}

func TestTracker_FlushErrorStopsAndKeepsUndo(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	boom := errors.New("constraint violation")

	first := &domain.Note{ID: 1, Title: "a"}
	require.NoError(t, tr.Attach(first, Unchanged))
	first.Title = "b"
	tr.Add(domain.NewNote("second", ""))

	err := tr.Flush(ctx, &fakeWriter{failOn: "insert", failWith: boom})
	require.ErrorIs(t, err, boom)

	tr.Revert()

	w := &fakeWriter{}
	require.NoError(t, tr.Flush(ctx, w))
	require.Len(t, w.calls, 2)
	assert.Equal(t, call{op: "update", key: 1, values: map[string]any{"title": "b"}}, w.calls[0])
	assert.Equal(t, "insert", w.calls[1].op)
}

func TestTracker_Discard(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	w := &fakeWriter{}

	stored := &domain.Note{ID: 1, Title: "stored"}
	doomed := &domain.Note{ID: 2, Title: "doomed"}
	attached := &domain.Note{ID: 3, Title: "attached"}
	added := domain.NewNote("added", "")
	require.NoError(t, tr.Attach(stored, Unchanged))
	require.NoError(t, tr.Attach(doomed, Unchanged))
	require.NoError(t, tr.Attach(attached, Modified))
	tr.Add(added)
	require.NoError(t, tr.Remove(doomed))
	stored.Title = "edited"
	require.NoError(t, tr.Flush(ctx, w))

	tr.Discard()

	assert.Equal(t, "stored", stored.Title)
	assert.Equal(t, Unchanged, tr.State(stored))
	assert.Equal(t, Unchanged, tr.State(doomed))
	assert.Equal(t, Detached, tr.State(attached))
	assert.Equal(t, Detached, tr.State(added))
	assert.Equal(t, int64(0), added.ID)
	assert.False(t, tr.HasChanges())
	assert.Equal(t, []*domain.Note{stored, doomed}, tr.Tracked())
}

func TestTracker_DropAddedAndClear(t *testing.T) {
	tr := newTracker()
	stored := &domain.Note{ID: 1, Title: "stored"}
	require.NoError(t, tr.Attach(stored, Unchanged))
	tr.Add(domain.NewNote("a", ""))
	tr.Add(domain.NewNote("b", ""))

	tr.DropAdded()
	assert.Equal(t, 1, tr.Len())

	tr.Detach(stored)
	assert.Equal(t, 0, tr.Len())

	tr.Add(domain.NewNote("c", ""))
	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "detached", Detached.String())
}
