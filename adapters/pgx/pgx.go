// Package pgx implements core.Storage over PostgreSQL using pgxpool.
package pgx

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mfreitas/gatehouse/core"
)

// Adapter is a PostgreSQL-backed core.Storage.
type Adapter struct {
	pool *pgxpool.Pool
}

var _ core.Storage = (*Adapter)(nil)

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{
		pool: pool,
	}
}

// tokenTable maps a token kind to its backing table. Each kind has its own
// table so retention and indexing can differ per kind.
func tokenTable(kind core.TokenKind) (string, error) {
	switch kind {
	case core.TokenReset:
		return "public.password_reset_tokens", nil
	case core.TokenRemember:
		return "public.remember_tokens", nil
	case core.TokenMagicLink:
		return "public.magic_link_tokens", nil
	case core.TokenVerification:
		return "public.email_verification_tokens", nil
	default:
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
}
