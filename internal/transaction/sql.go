package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
)

var (
	_ Transaction = (*NoOp)(nil)
	_ Transaction = (*SQL)(nil)
)

// SQLConn is a database/sql connection that routes every statement through
// the transaction it began until that transaction is released.
type SQLConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Release(tx *sql.Tx)
	DefaultIsolation() domain.IsolationLevel
}

// SQL is the connection-based handle over database/sql.
type SQL struct {
	handle
	conn SQLConn
	work Work
	tx   *sql.Tx
}

// NewSQL begins a native transaction on conn. On Close with a commit
// decision, work is flushed through it before the native commit. work may
// be nil.
func NewSQL(ctx context.Context, conn SQLConn, work Work, iso domain.IsolationLevel) (*SQL, error) {
	level, err := sqlIsolation(iso)
	if err != nil {
		return nil, err
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: level})
	if err != nil {
		return nil, fmt.Errorf("transaction: begin: %w", err)
	}

	if work == nil {
		work = nopWork{}
	}
	reported := iso
	if reported == domain.IsolationUnspecified {
		reported = conn.DefaultIsolation()
	}

	logger.FromContext(ctx).Debug(ctx, "transaction begun",
		logger.String("variant", "sql"),
		logger.String("isolation", reported.String()),
	)

	return &SQL{
		handle: handle{isolation: reported},
		conn:   conn,
		work:   work,
		tx:     tx,
	}, nil
}

func (t *SQL) Close(ctx context.Context) (err error) {
	commit, err := t.dispose()
	if err != nil {
		return err
	}
	ctx, done := t.trace(ctx, "sql")
	defer func() { done(err) }()
	defer t.conn.Release(t.tx)

	log := logger.FromContext(ctx).With(logger.String("variant", "sql"), logger.String("decision", t.pending.String()))
	if !commit {
		rbErr := t.tx.Rollback()
		t.work.Discard()
		if rbErr != nil {
			return fmt.Errorf("transaction: rollback: %w", rbErr)
		}
		log.Debug(ctx, "transaction rolled back")
		return nil
	}

	if err := t.work.Flush(ctx); err != nil {
		return t.abort(ctx, log, fmt.Errorf("transaction: flush: %w", err))
	}
	if err := t.tx.Commit(); err != nil {
		return t.abort(ctx, log, fmt.Errorf("transaction: commit: %w", err))
	}
	t.work.Accept()
	log.Debug(ctx, "transaction committed")
	return nil
}

func (t *SQL) abort(ctx context.Context, log logger.Logger, cause error) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		cause = errors.Join(cause, fmt.Errorf("transaction: rollback: %w", err))
	}
	t.work.Revert()
	log.Warn(ctx, "transaction commit failed", logger.Err(cause))
	return cause
}

func sqlIsolation(iso domain.IsolationLevel) (sql.IsolationLevel, error) {
	switch iso {
	case domain.IsolationUnspecified:
		return sql.LevelDefault, nil
	case domain.IsolationReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case domain.IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case domain.IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case domain.IsolationSerializable:
		return sql.LevelSerializable, nil
	case domain.IsolationSnapshot:
		return sql.LevelSnapshot, nil
	default:
		return sql.LevelDefault, domain.ErrUnsupportedIsolation.WithCause(fmt.Errorf("database/sql has no %s level", iso))
	}
}
