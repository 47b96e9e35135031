package pgx

import (
	"context"

	"github.com/mfreitas/gatehouse/core"
)

func (a *Adapter) AddPasswordHistory(ctx context.Context, e *core.PasswordHistoryEntry) error {
	q := `INSERT INTO public.password_history (id, account_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := a.pool.Exec(ctx, q, e.ID, e.AccountID, e.PasswordHash, e.CreatedAt)
	return err
}

func (a *Adapter) ListPasswordHistory(ctx context.Context, accountID string, limit int) ([]*core.PasswordHistoryEntry, error) {
	q := `SELECT id, account_id, password_hash, created_at FROM public.password_history
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := a.pool.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*core.PasswordHistoryEntry
	for rows.Next() {
		e := &core.PasswordHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.AccountID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PrunePasswordHistory drops every entry beyond the newest keep rows.
func (a *Adapter) PrunePasswordHistory(ctx context.Context, accountID string, keep int) error {
	q := `DELETE FROM public.password_history
		WHERE account_id = $1 AND id NOT IN (
			SELECT id FROM public.password_history
			WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
		)`
	_, err := a.pool.Exec(ctx, q, accountID, keep)
	return err
}
