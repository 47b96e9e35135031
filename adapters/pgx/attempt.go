package pgx

import (
	"context"

	"github.com/mfreitas/gatehouse/core"
)

func (a *Adapter) LogAttempt(ctx context.Context, r *core.AttemptRecord) error {
	q := `INSERT INTO public.auth_attempt_logs
		(id, attempt_type, account_id, data, ip_address, user_agent, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`

	_, err := a.pool.Exec(ctx, q,
		r.ID, r.Type, r.AccountID, r.Data, r.IPAddress, r.UserAgent, r.CreatedAt)
	return err
}
