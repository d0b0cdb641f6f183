package transaction

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
)

var _ Transaction = (*Session)(nil)

// NativeTx is a session driver's own transaction.
type NativeTx interface {
	Commit() error
	Rollback() error
}

// SessionConn is a session with manual flush: writes stay buffered in the
// session until Flush.
type SessionConn interface {
	Settler
	// Begin starts a native transaction and binds it to the session.
	Begin(ctx context.Context) (NativeTx, error)
	// Release unbinds the native transaction.
	Release()
	// Flush writes pending session changes to storage.
	Flush(ctx context.Context) error
}

// Session is the session-based handle. The isolation level is recorded as
// requested: session drivers may ignore it.
type Session struct {
	handle
	sess SessionConn
	tx   NativeTx
}

func NewSession(ctx context.Context, sess SessionConn, iso domain.IsolationLevel) (*Session, error) {
	tx, err := sess.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("transaction: begin: %w", err)
	}

	logger.FromContext(ctx).Debug(ctx, "transaction begun",
		logger.String("variant", "session"),
		logger.String("isolation", iso.String()),
	)

	return &Session{
		handle: handle{isolation: iso},
		sess:   sess,
		tx:     tx,
	}, nil
}

// Close commits or rolls back the native transaction. After a commit the
// session is flushed, so writes still buffered in it reach storage too.
func (t *Session) Close(ctx context.Context) (err error) {
	commit, err := t.dispose()
	if err != nil {
		return err
	}
	ctx, done := t.trace(ctx, "session")
	defer func() { done(err) }()

	log := logger.FromContext(ctx).With(logger.String("variant", "session"), logger.String("decision", t.pending.String()))
	if !commit {
		rbErr := t.tx.Rollback()
		t.sess.Release()
		t.sess.Discard()
		if rbErr != nil {
			return fmt.Errorf("transaction: rollback: %w", rbErr)
		}
		log.Debug(ctx, "transaction rolled back")
		return nil
	}

	if err := t.tx.Commit(); err != nil {
		cause := fmt.Errorf("transaction: commit: %w", err)
		if rbErr := t.tx.Rollback(); rbErr != nil {
			log.Debug(ctx, "rollback after failed commit", logger.Err(rbErr))
		}
		t.sess.Release()
		t.sess.Revert()
		log.Warn(ctx, "transaction commit failed", logger.Err(cause))
		return cause
	}
	t.sess.Release()
	t.sess.Accept()

	if err := t.sess.Flush(ctx); err != nil {
		return fmt.Errorf("transaction: flush after commit: %w", err)
	}
	log.Debug(ctx, "transaction committed")
	return nil
}
