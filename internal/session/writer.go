package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/kv"
)

// writer stores whole entities; partial column values are ignored.
type writer[T any] struct {
	tx   kv.Tx
	repo *Repository[T]
}

func (w *writer[T]) Insert(_ context.Context, entity *T, _ map[string]any) (int64, error) {
	key := w.repo.mapping.KeyOf(entity)
	if key == 0 {
		seq, err := w.tx.NextSequence(w.repo.bucket())
		if err != nil {
			return 0, fmt.Errorf("session: allocate key: %w", err)
		}
		key = int64(seq)
		w.repo.mapping.SetKey(entity, key)
	}
	return key, w.put(entity, key)
}

func (w *writer[T]) Update(_ context.Context, entity *T, key int64, _ map[string]any) error {
	return w.put(entity, key)
}

func (w *writer[T]) Delete(_ context.Context, key int64) error {
	if err := w.tx.Delete(w.repo.bucket(), uint64(key)); err != nil {
		return fmt.Errorf("session: delete %s %d: %w", w.repo.bucket(), key, err)
	}
	return nil
}

func (w *writer[T]) put(entity *T, key int64) error {
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("session: encode %s %d: %w", w.repo.bucket(), key, err)
	}
	if err := w.tx.Put(w.repo.bucket(), uint64(key), raw); err != nil {
		return fmt.Errorf("session: put %s %d: %w", w.repo.bucket(), key, err)
	}
	return nil
}
