package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/cloo-solutions/repokit/internal/api"
	"github.com/cloo-solutions/repokit/internal/database"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/kv/levelkv"
	"github.com/cloo-solutions/repokit/internal/mapping"
	"github.com/cloo-solutions/repokit/internal/memory"
	"github.com/cloo-solutions/repokit/internal/pagination"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/session"
	"github.com/cloo-solutions/repokit/internal/testutil"
	"github.com/cloo-solutions/repokit/internal/tracking"
	"github.com/cloo-solutions/repokit/internal/transaction"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNoteRepository struct {
	mock.Mock
}

func (m *MockNoteRepository) Persist(ctx context.Context, note *domain.Note) error {
	return m.Called(ctx, note).Error(0)
}

func (m *MockNoteRepository) Delete(ctx context.Context, note *domain.Note) error {
	return m.Called(ctx, note).Error(0)
}

func (m *MockNoteRepository) DeleteAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockNoteRepository) Refresh(ctx context.Context, note *domain.Note) error {
	return m.Called(ctx, note).Error(0)
}

func (m *MockNoteRepository) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockNoteRepository) Transaction(ctx context.Context, iso domain.IsolationLevel) (transaction.Transaction, error) {
	args := m.Called(ctx, iso)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(transaction.Transaction), args.Error(1)
}

func (m *MockNoteRepository) All(ctx context.Context) iter.Seq2[*domain.Note, error] {
	return m.Called(ctx).Get(0).(iter.Seq2[*domain.Note, error])
}

func (m *MockNoteRepository) Close() error {
	return m.Called().Error(0)
}

func seq(notes ...*domain.Note) iter.Seq2[*domain.Note, error] {
	return func(yield func(*domain.Note, error) bool) {
		for _, n := range notes {
			if !yield(n, nil) {
				return
			}
		}
	}
}

func newSessionRepo(t *testing.T) repository.Repository[domain.Note] {
	t.Helper()
	store, err := levelkv.OpenMemory()
	require.NoError(t, err)
	repo := session.NewRepository(store, mapping.MustNew[domain.Note]("notes", "id"))
	t.Cleanup(func() {
		_ = repo.Close()
		_ = store.Close()
	})
	return repo
}

func newMemoryRepo(t *testing.T) repository.Repository[domain.Note] {
	t.Helper()
	return memory.NewRepository[domain.Note]()
}

var repos = map[string]func(t *testing.T) repository.Repository[domain.Note]{
	"memory":  newMemoryRepo,
	"session": newSessionRepo,
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorBody {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func create(t *testing.T, h *NotesHandler, title, body string) NoteResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/notes", jsonBody(t, NoteRequest{Title: title, Body: body}))
	w := httptest.NewRecorder()
	h.Create(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[NoteResponse](t, w)
}

func TestNotesHandler_CreateGetUpdateDelete(t *testing.T) {
	for name, newRepo := range repos {
		t.Run(name, func(t *testing.T) {
			h := NewNotesHandler(newRepo(t), domain.IsolationUnspecified)

			created := create(t, h, "first", "body")
			assert.NotZero(t, created.ID)
			id := strconv.FormatInt(created.ID, 10)

			w := httptest.NewRecorder()
			h.Get(w, withID(httptest.NewRequest(http.MethodGet, "/notes/"+id, nil), id))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, created, decodeData[NoteResponse](t, w))

			w = httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/notes/"+id, jsonBody(t, NoteRequest{Title: "renamed", Body: "new"}))
			h.Update(w, withID(req, id))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, NoteResponse{ID: created.ID, Title: "renamed", Body: "new"}, decodeData[NoteResponse](t, w))

			w = httptest.NewRecorder()
			h.Delete(w, withID(httptest.NewRequest(http.MethodDelete, "/notes/"+id, nil), id))
			assert.Equal(t, http.StatusNoContent, w.Code)

			w = httptest.NewRecorder()
			h.Get(w, withID(httptest.NewRequest(http.MethodGet, "/notes/"+id, nil), id))
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, domain.ErrCodeNotFound, decodeError(t, w).Code)
		})
	}
}

func TestNotesHandler_ListPaginates(t *testing.T) {
	for name, newRepo := range repos {
		t.Run(name, func(t *testing.T) {
			h := NewNotesHandler(newRepo(t), domain.IsolationUnspecified)
			for _, title := range []string{"a", "b", "c"} {
				create(t, h, title, "")
			}

			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, "/notes?limit=2", nil))
			require.Equal(t, http.StatusOK, w.Code)
			page := decodeData[pagination.PageResult[NoteResponse]](t, w)
			require.Len(t, page.Items, 2)
			assert.Equal(t, "a", page.Items[0].Title)
			assert.Equal(t, "b", page.Items[1].Title)
			assert.True(t, page.HasMore)
			require.NotEmpty(t, page.Cursor)

			w = httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, "/notes?limit=2&cursor="+page.Cursor, nil))
			require.Equal(t, http.StatusOK, w.Code)
			page = decodeData[pagination.PageResult[NoteResponse]](t, w)
			require.Len(t, page.Items, 1)
			assert.Equal(t, "c", page.Items[0].Title)
			assert.False(t, page.HasMore)
			assert.Empty(t, page.Cursor)
		})
	}
}

func TestNotesHandler_ListRejectsBadParams(t *testing.T) {
	h := NewNotesHandler(newMemoryRepo(t), domain.IsolationUnspecified)

	for _, query := range []string{"?limit=zero", "?cursor=%21%21"} {
		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/notes"+query, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestNotesHandler_CreateValidation(t *testing.T) {
	h := NewNotesHandler(newMemoryRepo(t), domain.IsolationUnspecified)

	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/notes", jsonBody(t, NoteRequest{Body: "no title"})))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrCodeValidation, decodeError(t, w).Code)

	w = httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeBadRequest, decodeError(t, w).Code)

	w = httptest.NewRecorder()
	long := strings.Repeat("x", domain.MaxNoteTitleLength+1)
	h.Create(w, httptest.NewRequest(http.MethodPost, "/notes", jsonBody(t, NoteRequest{Title: long})))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotesHandler_BadID(t *testing.T) {
	h := NewNotesHandler(newMemoryRepo(t), domain.IsolationUnspecified)

	for _, id := range []string{"abc", "0", "-1"} {
		w := httptest.NewRecorder()
		h.Get(w, withID(httptest.NewRequest(http.MethodGet, "/notes/"+id, nil), id))
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}

func TestNotesHandler_BatchAndDeleteAll(t *testing.T) {
	for name, newRepo := range repos {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t)
			h := NewNotesHandler(repo, domain.IsolationSerializable)

			w := httptest.NewRecorder()
			body := jsonBody(t, BatchRequest{Notes: []NoteRequest{{Title: "one"}, {Title: "two"}}})
			h.Batch(w, httptest.NewRequest(http.MethodPost, "/notes/batch", body))
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			out := decodeData[[]NoteResponse](t, w)
			require.Len(t, out, 2)
			assert.NotEqual(t, out[0].ID, out[1].ID)

			n, err := repository.Count(context.Background(), repo)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			w = httptest.NewRecorder()
			h.DeleteAll(w, httptest.NewRequest(http.MethodDelete, "/notes", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)

			n, err = repository.Count(context.Background(), repo)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestNotesHandler_BatchValidatesEveryNote(t *testing.T) {
	repo := newSessionRepo(t)
	h := NewNotesHandler(repo, domain.IsolationUnspecified)

	w := httptest.NewRecorder()
	body := jsonBody(t, BatchRequest{Notes: []NoteRequest{{Title: "fine"}, {Body: "untitled"}}})
	h.Batch(w, httptest.NewRequest(http.MethodPost, "/notes/batch", body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "note 1")

	n, err := repository.Count(context.Background(), repo)
	require.NoError(t, err)
	assert.Zero(t, n)

	w = httptest.NewRecorder()
	h.Batch(w, httptest.NewRequest(http.MethodPost, "/notes/batch", jsonBody(t, BatchRequest{})))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotesHandler_BatchCommitFailureRollsBack(t *testing.T) {
	repo := new(MockNoteRepository)
	h := NewNotesHandler(repo, domain.IsolationReadCommitted)
	boom := errors.New("disk full")

	tx := transaction.NewNoOp(domain.IsolationReadCommitted)
	repo.On("Transaction", mock.Anything, domain.IsolationReadCommitted).Return(tx, nil)
	repo.On("Persist", mock.Anything, mock.AnythingOfType("*domain.Note")).Return(nil).Twice()
	repo.On("Commit", mock.Anything).Return(boom)

	w := httptest.NewRecorder()
	body := jsonBody(t, BatchRequest{Notes: []NoteRequest{{Title: "one"}, {Title: "two"}}})
	h.Batch(w, httptest.NewRequest(http.MethodPost, "/notes/batch", body))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errBody := decodeError(t, w)
	assert.Equal(t, api.CodeInternal, errBody.Code)
	assert.NotContains(t, errBody.Message, "disk full")

	// the handle was closed without a commit mark
	assert.ErrorIs(t, tx.Close(context.Background()), domain.ErrTransactionDisposed)
	repo.AssertExpectations(t)
}

func TestNotesHandler_CreateCommitFailureDropsNote(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := tracking.NewRepository(database.NewSQLConn(db, database.DriverSQLite), mapping.MustNew[domain.Note]("notes", "id"))
	t.Cleanup(func() { _ = repo.Close() })
	h := NewNotesHandler(repo, domain.IsolationUnspecified)

	_, err := db.Exec(`ALTER TABLE notes RENAME TO notes_away`)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/notes", jsonBody(t, NoteRequest{Title: "failed"})))
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())

	_, err = db.Exec(`ALTER TABLE notes_away RENAME TO notes`)
	require.NoError(t, err)

	create(t, h, "second", "")

	rows, err := db.Query(`SELECT title FROM notes ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var titles []string
	for rows.Next() {
		var title string
		require.NoError(t, rows.Scan(&title))
		titles = append(titles, title)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"second"}, titles)
}

func TestNotesHandler_TransactionConflict(t *testing.T) {
	repo := new(MockNoteRepository)
	h := NewNotesHandler(repo, domain.IsolationUnspecified)

	repo.On("Transaction", mock.Anything, domain.IsolationUnspecified).Return(nil, domain.ErrTransactionActive)

	w := httptest.NewRecorder()
	h.DeleteAll(w, httptest.NewRequest(http.MethodDelete, "/notes", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrCodeInvalidOperation, decodeError(t, w).Code)
	repo.AssertExpectations(t)
}

func TestNotesHandler_EnumerationError(t *testing.T) {
	repo := new(MockNoteRepository)
	h := NewNotesHandler(repo, domain.IsolationUnspecified)

	failing := func(yield func(*domain.Note, error) bool) {
		yield(nil, domain.ErrRepositoryDisposed)
	}
	repo.On("All", mock.Anything).Return(iter.Seq2[*domain.Note, error](failing))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/notes", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNotesHandler_GetFindsByID(t *testing.T) {
	repo := new(MockNoteRepository)
	h := NewNotesHandler(repo, domain.IsolationUnspecified)

	repo.On("All", mock.Anything).Return(seq(&domain.Note{ID: 3, Title: "three"}, &domain.Note{ID: 9, Title: "nine"}))

	w := httptest.NewRecorder()
	h.Get(w, withID(httptest.NewRequest(http.MethodGet, "/notes/9", nil), "9"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nine", decodeData[NoteResponse](t, w).Title)
}
