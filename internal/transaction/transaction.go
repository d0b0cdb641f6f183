// Package transaction provides the deferred commit/rollback handle shared by
// every repository adapter. Commit and Rollback only record a decision; Close
// acts on it exactly once.
package transaction

import (
	"context"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/telemetry"
	"github.com/getsentry/sentry-go"
)

// Transaction is one atomic unit of work bound to a connection or session.
//
// A handle that is closed without a call to Commit rolls back, so the usual
// shape is:
//
//	tx, err := repo.Transaction(ctx, domain.IsolationUnspecified)
//	if err != nil {
//		return err
//	}
//	defer tx.Close(ctx)
//	... staged work ...
//	return tx.Commit()
type Transaction interface {
	// Commit marks the handle for commit. Storage is not touched until Close.
	Commit() error
	// Rollback marks the handle for rollback. Storage is not touched until Close.
	Rollback() error
	// Close performs the real commit when the last mark was Commit and the
	// real rollback otherwise. Any later call fails with
	// domain.ErrTransactionDisposed.
	Close(ctx context.Context) error
	// IsolationLevel reports the requested level, or the engine default when
	// none was requested. It stays readable after Close.
	IsolationLevel() domain.IsolationLevel
}

// Settler decides the fate of changes flushed through a native transaction.
type Settler interface {
	// Accept is called once flushed changes are durable.
	Accept()
	// Revert undoes the in-memory effects of flushes whose native
	// transaction failed to commit.
	Revert()
	// Discard reverts and then drops every staged change.
	Discard()
}

// Work is the staged state of a repository that a transaction settles.
type Work interface {
	Settler
	// Flush writes staged changes through the bound native transaction.
	Flush(ctx context.Context) error
}

type decision int

const (
	unmarked decision = iota
	markedCommit
	markedRollback
)

func (d decision) String() string {
	switch d {
	case markedCommit:
		return "commit"
	case markedRollback:
		return "rollback"
	default:
		return "unmarked"
	}
}

// handle is the state machine every variant embeds:
// Active(unmarked|commit|rollback) until dispose, then Disposed.
type handle struct {
	isolation domain.IsolationLevel
	pending   decision
	disposed  bool
}

func (h *handle) Commit() error {
	if h.disposed {
		return domain.ErrTransactionDisposed
	}
	h.pending = markedCommit
	return nil
}

func (h *handle) Rollback() error {
	if h.disposed {
		return domain.ErrTransactionDisposed
	}
	h.pending = markedRollback
	return nil
}

func (h *handle) IsolationLevel() domain.IsolationLevel {
	return h.isolation
}

// dispose moves the handle to Disposed and reports whether the real commit
// should run. The handle is disposed even when the caller's native action
// later fails.
func (h *handle) dispose() (bool, error) {
	if h.disposed {
		return false, domain.ErrTransactionDisposed
	}
	h.disposed = true
	return h.pending == markedCommit, nil
}

// trace wraps the resolution of a native transaction in a span and leaves a
// breadcrumb with the outcome. The returned func ends the span.
func (h *handle) trace(ctx context.Context, variant string) (context.Context, func(error)) {
	outcome := "rollback"
	if h.pending == markedCommit {
		outcome = "commit"
	}
	ctx, span := telemetry.StartSpan(ctx, "transaction."+outcome, telemetry.SpanAttributes{
		Adapter:   variant,
		Isolation: h.isolation.String(),
		Operation: outcome,
	})
	return ctx, func(err error) {
		message := variant + " " + outcome
		switch {
		case err != nil:
			span.SetError(err)
			message += " failed"
		case outcome == "commit":
			span.SetStatus(sentry.SpanStatusOK)
		default:
			span.SetStatus(sentry.SpanStatusAborted)
		}
		telemetry.AddBreadcrumb(ctx, "transaction", message)
		span.End()
	}
}

// NoOp is the handle of adapters whose mutations are immediate: it keeps the
// isolation level for bookkeeping and never touches storage.
type NoOp struct {
	handle
}

func NewNoOp(iso domain.IsolationLevel) *NoOp {
	return &NoOp{handle: handle{isolation: iso}}
}

func (t *NoOp) Close(context.Context) error {
	_, err := t.dispose()
	return err
}

type nopWork struct{}

func (nopWork) Flush(context.Context) error { return nil }
func (nopWork) Accept()                     {}
func (nopWork) Revert()                     {}
func (nopWork) Discard()                    {}
