package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"classbook/internal/domain"
)

// Tx is the transaction handed to InClassTx callbacks.
type Tx struct {
	store
}

var _ domain.Store = (*DB)(nil)
var _ domain.Tx = (*Tx)(nil)

// InClassTx serialises work on the given classes: the per-class locks are
// taken in ascending id order, then fn runs inside a single transaction.
// Any error from fn rolls everything back.
func (db *DB) InClassTx(ctx context.Context, classIDs []int64, fn func(tx domain.Tx) error) error {
	unlock := db.lockClasses(classIDs)
	defer unlock()

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{store: store{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) lockClasses(classIDs []int64) func() {
	ids := make([]int64, 0, len(classIDs))
	seen := make(map[int64]struct{}, len(classIDs))
	for _, id := range classIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		v, _ := db.locks.LoadOrStore(id, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		held = append(held, mu)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
