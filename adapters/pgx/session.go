package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/mfreitas/gatehouse/core"
)

const sessionColumns = `id, account_id, guard, token_hash, ip_address, user_agent, expires_at, created_at, updated_at`

func (a *Adapter) CreateSession(ctx context.Context, session *core.Session) error {
	q := `INSERT INTO public.sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := a.pool.Exec(ctx, q,
		session.ID, session.AccountID, session.Guard, session.TokenHash,
		session.IPAddress, session.UserAgent, session.ExpiresAt,
		session.CreatedAt, session.UpdatedAt)
	return err
}

func (a *Adapter) GetSessionByHash(ctx context.Context, tokenHash string) (*core.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM public.sessions WHERE token_hash = $1`
	return a.scanSession(a.pool.QueryRow(ctx, q, tokenHash))
}

func (a *Adapter) GetSessionByID(ctx context.Context, id string) (*core.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM public.sessions WHERE id = $1`
	return a.scanSession(a.pool.QueryRow(ctx, q, id))
}

func (a *Adapter) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM public.sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (a *Adapter) DeleteSessionByID(ctx context.Context, id string) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM public.sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (a *Adapter) DeleteAccountSessions(ctx context.Context, accountID string) (int, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM public.sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (a *Adapter) DeleteExpiredSessions(ctx context.Context) (int, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM public.sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (a *Adapter) scanSession(row pgx.Row) (*core.Session, error) {
	session := &core.Session{}
	err := row.Scan(&session.ID, &session.AccountID, &session.Guard,
		&session.TokenHash, &session.IPAddress, &session.UserAgent,
		&session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, core.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}
