package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/jackc/pgx/v5"
)

var _ Transaction = (*Pgx)(nil)

// PgxConn is a pgx connection or pool that routes every statement through
// the transaction it began until that transaction is released.
type PgxConn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Release(tx pgx.Tx)
	DefaultIsolation() domain.IsolationLevel
}

// Pgx is the connection-based handle over a native pgx transaction.
type Pgx struct {
	handle
	conn PgxConn
	work Work
	tx   pgx.Tx
}

// NewPgx begins a native transaction on conn. work may be nil.
func NewPgx(ctx context.Context, conn PgxConn, work Work, iso domain.IsolationLevel) (*Pgx, error) {
	level, err := pgxIsolation(iso)
	if err != nil {
		return nil, err
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: level})
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
		logger.String("variant", "pgx"),
		logger.String("isolation", reported.String()),
	)

	return &Pgx{
		handle: handle{isolation: reported},
		conn:   conn,
		work:   work,
		tx:     tx,
	}, nil
}

func (t *Pgx) Close(ctx context.Context) (err error) {
	commit, err := t.dispose()
	if err != nil {
		return err
	}
	ctx, done := t.trace(ctx, "pgx")
	defer func() { done(err) }()
	defer t.conn.Release(t.tx)

	log := logger.FromContext(ctx).With(logger.String("variant", "pgx"), logger.String("decision", t.pending.String()))
	if !commit {
		rbErr := t.tx.Rollback(ctx)
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
	if err := t.tx.Commit(ctx); err != nil {
		return t.abort(ctx, log, fmt.Errorf("transaction: commit: %w", err))
	}
	t.work.Accept()
	log.Debug(ctx, "transaction committed")
	return nil
}

func (t *Pgx) abort(ctx context.Context, log logger.Logger, cause error) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		cause = errors.Join(cause, fmt.Errorf("transaction: rollback: %w", err))
	}
	t.work.Revert()
	log.Warn(ctx, "transaction commit failed", logger.Err(cause))
	return cause
}

// pgxIsolation maps Snapshot to repeatable read, which postgres implements
// as snapshot isolation.
func pgxIsolation(iso domain.IsolationLevel) (pgx.TxIsoLevel, error) {
	switch iso {
	case domain.IsolationUnspecified:
		return "", nil
	case domain.IsolationReadUncommitted:
		return pgx.ReadUncommitted, nil
	case domain.IsolationReadCommitted:
		return pgx.ReadCommitted, nil
	case domain.IsolationRepeatableRead, domain.IsolationSnapshot:
		return pgx.RepeatableRead, nil
	case domain.IsolationSerializable:
		return pgx.Serializable, nil
	default:
		return "", domain.ErrUnsupportedIsolation.WithCause(fmt.Errorf("postgres has no %s level", iso))
	}
}
