package pgx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mfreitas/gatehouse/core"
)

const tokenColumns = `id, account_id, token_hash, purpose, redirect_url, max_uses, uses_count,
	ip_allowlist, used_ips, metadata, created_by, expires_at, first_used_at, last_used_at, created_at`

func (a *Adapter) CreateToken(ctx context.Context, token *core.BearerToken) error {
	table, err := tokenTable(token.Kind)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`INSERT INTO %s (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, table)

	_, err = a.pool.Exec(ctx, q,
		token.ID, token.AccountID, token.Hash, token.Purpose, token.RedirectURL,
		token.MaxUses, token.UsesCount, token.IPAllowList, token.UsedIPs,
		token.Metadata, token.CreatedBy, token.ExpiresAt,
		token.FirstUsedAt, token.LastUsedAt, token.CreatedAt)
	if err != nil {
		return err
	}

	// Magic links are mirrored into the legacy auto-login table so older
	// consumers that query it keep working.
	if token.Kind == core.TokenMagicLink {
		return a.mirrorAutoLogin(ctx, token)
	}
	return nil
}

func (a *Adapter) GetTokenByHash(ctx context.Context, kind core.TokenKind, hash string) (*core.BearerToken, error) {
	table, err := tokenTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT `+tokenColumns+` FROM %s WHERE token_hash = $1`, table)
	return a.scanToken(a.pool.QueryRow(ctx, q, hash), kind)
}

func (a *Adapter) GetTokenByID(ctx context.Context, kind core.TokenKind, id string) (*core.BearerToken, error) {
	table, err := tokenTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT `+tokenColumns+` FROM %s WHERE id = $1`, table)
	return a.scanToken(a.pool.QueryRow(ctx, q, id), kind)
}

func (a *Adapter) ListAccountTokens(ctx context.Context, kind core.TokenKind, accountID string, limit int) ([]*core.BearerToken, error) {
	table, err := tokenTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT `+tokenColumns+` FROM %s
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, table)

	rows, err := a.pool.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*core.BearerToken
	for rows.Next() {
		token, err := a.scanToken(rows, kind)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// ConsumeToken spends one use. The WHERE clause guards the increment, so
// under concurrent redemption exactly one caller updates the final use and
// the rest observe zero affected rows.
func (a *Adapter) ConsumeToken(ctx context.Context, kind core.TokenKind, id string, ip string) error {
	table, err := tokenTable(kind)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`UPDATE %s SET
		uses_count = uses_count + 1,
		used_ips = array_append(used_ips, $2),
		first_used_at = COALESCE(first_used_at, now()),
		last_used_at = now()
		WHERE id = $1 AND uses_count < max_uses`, table)

	tag, err := a.pool.Exec(ctx, q, id, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Missing row and exhausted row both affect nothing; look once more
		// to tell them apart.
		if _, err := a.GetTokenByID(ctx, kind, id); err != nil {
			return err
		}
		return core.ErrTokenExhausted
	}

	if kind == core.TokenMagicLink {
		mq := `UPDATE public.auto_login_tokens SET uses_count = uses_count + 1, last_used_at = now() WHERE token_id = $1`
		if _, err := a.pool.Exec(ctx, mq, id); err != nil {
			return err
		}
	}
	return nil
}

// RevokeToken pushes expiry into the past and maxes out the use counter,
// keeping the row for auditing.
func (a *Adapter) RevokeToken(ctx context.Context, kind core.TokenKind, id string) error {
	table, err := tokenTable(kind)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`UPDATE %s SET
		expires_at = now() - interval '1 second',
		uses_count = max_uses
		WHERE id = $1`, table)

	tag, err := a.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTokenNotFound
	}

	if kind == core.TokenMagicLink {
		mq := `UPDATE public.auto_login_tokens SET expires_at = now() - interval '1 second' WHERE token_id = $1`
		if _, err := a.pool.Exec(ctx, mq, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) DeleteAccountTokens(ctx context.Context, kind core.TokenKind, accountID string) (int, error) {
	table, err := tokenTable(kind)
	if err != nil {
		return 0, err
	}

	tag, err := a.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1`, table), accountID)
	if err != nil {
		return 0, err
	}

	if kind == core.TokenMagicLink {
		if _, err := a.pool.Exec(ctx, `DELETE FROM public.auto_login_tokens WHERE account_id = $1`, accountID); err != nil {
			return 0, err
		}
	}
	return int(tag.RowsAffected()), nil
}

func (a *Adapter) mirrorAutoLogin(ctx context.Context, token *core.BearerToken) error {
	q := `INSERT INTO public.auto_login_tokens
		(token_id, account_id, token_hash, max_uses, uses_count, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := a.pool.Exec(ctx, q,
		token.ID, token.AccountID, token.Hash, token.MaxUses, token.UsesCount,
		token.ExpiresAt, token.CreatedAt)
	return err
}

func (a *Adapter) scanToken(row pgx.Row, kind core.TokenKind) (*core.BearerToken, error) {
	token := &core.BearerToken{Kind: kind}
	var purpose, redirectURL, createdBy *string

	err := row.Scan(&token.ID, &token.AccountID, &token.Hash, &purpose,
		&redirectURL, &token.MaxUses, &token.UsesCount, &token.IPAllowList,
		&token.UsedIPs, &token.Metadata, &createdBy, &token.ExpiresAt,
		&token.FirstUsedAt, &token.LastUsedAt, &token.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, core.ErrTokenNotFound
		}
		return nil, err
	}

	if purpose != nil {
		token.Purpose = *purpose
	}
	if redirectURL != nil {
		token.RedirectURL = *redirectURL
	}
	if createdBy != nil {
		token.CreatedBy = *createdBy
	}
	return token, nil
}
