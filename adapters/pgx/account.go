package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mfreitas/gatehouse/core"
)

const accountColumns = `id, email, username, password_hash, active, verified, verified_at,
	force_password_change, password_changed_at, last_login_at, last_login_ip,
	login_count, created_at, updated_at, deleted_at`

func (a *Adapter) CreateAccount(ctx context.Context, account *core.Account) error {
	q := `INSERT INTO public.accounts
		(id, email, username, password_hash, active, verified, force_password_change, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`

	_, err := a.pool.Exec(ctx, q,
		account.ID, account.Email, account.Username, account.PasswordHash,
		account.Active, account.Verified, account.ForcePasswordChange,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return core.ErrAccountExists
		}
		return err
	}
	return nil
}

func (a *Adapter) GetAccountByID(ctx context.Context, id string) (*core.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM public.accounts WHERE id = $1`
	return a.scanAccount(a.pool.QueryRow(ctx, q, id))
}

func (a *Adapter) GetAccountByEmail(ctx context.Context, email string) (*core.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM public.accounts WHERE email = $1`
	return a.scanAccount(a.pool.QueryRow(ctx, q, email))
}

func (a *Adapter) GetAccountByUsername(ctx context.Context, username string) (*core.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM public.accounts WHERE username = $1`
	return a.scanAccount(a.pool.QueryRow(ctx, q, username))
}

func (a *Adapter) UpdateAccount(ctx context.Context, account *core.Account) error {
	q := `UPDATE public.accounts SET
		email = $1, username = NULLIF($2, ''), password_hash = $3, active = $4,
		verified = $5, verified_at = $6, force_password_change = $7,
		password_changed_at = $8, updated_at = now()
		WHERE id = $9 RETURNING updated_at`

	var updatedAt time.Time
	err := a.pool.QueryRow(ctx, q,
		account.Email, account.Username, account.PasswordHash, account.Active,
		account.Verified, account.VerifiedAt, account.ForcePasswordChange,
		account.PasswordChangedAt, account.ID).Scan(&updatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return core.ErrAccountNotFound
		}
		return err
	}
	account.UpdatedAt = updatedAt
	return nil
}

func (a *Adapter) SoftDeleteAccount(ctx context.Context, id string) error {
	q := `UPDATE public.accounts SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := a.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

// RecordLogin bumps login metadata in a single statement so the counter
// increment is atomic under concurrent logins.
func (a *Adapter) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	q := `UPDATE public.accounts SET
		last_login_at = $1, last_login_ip = $2, login_count = login_count + 1, updated_at = now()
		WHERE id = $3`

	tag, err := a.pool.Exec(ctx, q, at, ip, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

func (a *Adapter) scanAccount(row pgx.Row) (*core.Account, error) {
	account := &core.Account{}
	var username, lastLoginIP *string

	err := row.Scan(&account.ID, &account.Email, &username, &account.PasswordHash,
		&account.Active, &account.Verified, &account.VerifiedAt,
		&account.ForcePasswordChange, &account.PasswordChangedAt,
		&account.LastLoginAt, &lastLoginIP, &account.LoginCount,
		&account.CreatedAt, &account.UpdatedAt, &account.DeletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, core.ErrAccountNotFound
		}
		return nil, err
	}

	if username != nil {
		account.Username = *username
	}
	if lastLoginIP != nil {
		account.LastLoginIP = *lastLoginIP
	}
	return account, nil
}
