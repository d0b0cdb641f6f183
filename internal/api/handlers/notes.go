package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/cloo-solutions/repokit/internal/api"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/cloo-solutions/repokit/internal/pagination"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

// NotesHandler serves notes from a single repository. Repositories are not
// safe for concurrent use, so every request holds mu while it uses repo.
type NotesHandler struct {
	mu        sync.Mutex
	repo      repository.Repository[domain.Note]
	isolation domain.IsolationLevel
	// lastID numbers notes for repositories that assign no identity.
	lastID int64
}

func NewNotesHandler(repo repository.Repository[domain.Note], iso domain.IsolationLevel) *NotesHandler {
	return &NotesHandler{repo: repo, isolation: iso}
}

type NoteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type BatchRequest struct {
	Notes []NoteRequest `json:"notes"`
}

type NoteResponse struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func noteToResponse(n *domain.Note) NoteResponse {
	return NoteResponse{ID: n.ID, Title: n.Title, Body: n.Body}
}

func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := pagination.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeBadRequest, "limit must be a positive integer")
		return
	}
	after, hasCursor, err := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]NoteResponse, 0, limit+1)
	for note, err := range h.repo.All(r.Context()) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.observe(note)
		if hasCursor && note.ID <= after {
			continue
		}
		items = append(items, noteToResponse(note))
		if len(items) > limit {
			break
		}
	}

	api.Success(w, http.StatusOK, pagination.NewPage(items, limit, func(n NoteResponse) int64 { return n.ID }))
}

func (h *NotesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !decode(w, r, &req) {
		return
	}
	note := domain.NewNote(req.Title, req.Body)
	if err := note.Validate(); err != nil {
		api.HandleError(w, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// a failed commit discards the staged note so a later request cannot flush it
	ctx := r.Context()
	_, err := repository.Transact(ctx, h.repo, h.isolation, func(repo repository.Repository[domain.Note]) error {
		if err := repo.Persist(ctx, note); err != nil {
			return err
		}
		return repo.Commit(ctx)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.number(note)

	api.Success(w, http.StatusCreated, noteToResponse(note))
}

func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	note, err := h.find(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	api.Success(w, http.StatusOK, noteToResponse(note))
}

func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !decode(w, r, &req) {
		return
	}
	if err := domain.NewNote(req.Title, req.Body).Validate(); err != nil {
		api.HandleError(w, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	note, err := h.find(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// a failed commit rolls back, which restores the stored title and body
	_, err = repository.Transact(ctx, h.repo, h.isolation, func(repo repository.Repository[domain.Note]) error {
		note.Title, note.Body = req.Title, req.Body
		if err := repo.Persist(ctx, note); err != nil {
			return err
		}
		return repo.Commit(ctx)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	api.Success(w, http.StatusOK, noteToResponse(note))
}

func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	note, err := h.find(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_, err = repository.Transact(ctx, h.repo, h.isolation, func(repo repository.Repository[domain.Note]) error {
		if err := repo.Delete(ctx, note); err != nil {
			return err
		}
		return repo.Commit(ctx)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *NotesHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	_, err := repository.Transact(ctx, h.repo, h.isolation, func(repo repository.Repository[domain.Note]) error {
		if err := repo.DeleteAll(ctx); err != nil {
			return err
		}
		return repo.Commit(ctx)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Batch stores every note of the request or none of them.
func (h *NotesHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Notes) == 0 {
		api.Error(w, http.StatusBadRequest, api.CodeBadRequest, "notes is required")
		return
	}

	notes := make([]*domain.Note, len(req.Notes))
	for i, n := range req.Notes {
		notes[i] = domain.NewNote(n.Title, n.Body)
		if err := notes[i].Validate(); err != nil {
			api.HandleError(w, fmt.Errorf("note %d: %w", i, err))
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	_, err := repository.Transact(ctx, h.repo, h.isolation, func(repo repository.Repository[domain.Note]) error {
		for _, note := range notes {
			if err := repo.Persist(ctx, note); err != nil {
				return err
			}
		}
		return repo.Commit(ctx)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]NoteResponse, len(notes))
	for i, note := range notes {
		h.number(note)
		out[i] = noteToResponse(note)
	}
	api.Success(w, http.StatusCreated, out)
}

func (h *NotesHandler) find(ctx context.Context, id int64) (*domain.Note, error) {
	for note, err := range h.repo.All(ctx) {
		if err != nil {
			return nil, err
		}
		h.observe(note)
		if note.ID == id {
			return note, nil
		}
	}
	return nil, domain.ErrNoteNotFound.WithCause(fmt.Errorf("id %d", id))
}

// number gives note an ID when the repository left it without one.
func (h *NotesHandler) number(note *domain.Note) {
	if note.ID == 0 {
		h.lastID++
		note.ID = h.lastID
		return
	}
	h.observe(note)
}

func (h *NotesHandler) observe(note *domain.Note) {
	h.lastID = max(h.lastID, note.ID)
}

// fail writes err and reports server-side failures.
func (h *NotesHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := api.DomainErrorToHTTP(err)
	if status >= http.StatusInternalServerError {
		ctx := r.Context()
		logger.FromContext(ctx).Error(ctx, "notes request failed", logger.Err(err))
		telemetry.CaptureError(ctx, err)
	}
	api.HandleError(w, err)
}

func noteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		api.Error(w, http.StatusBadRequest, api.CodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, api.CodeTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, api.CodeBadRequest, "invalid request body")
		return false
	}
	return true
}
