package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mfreitas/gatehouse/core"
)

func newMagicEnv(t *testing.T) (*testEnv, *MagicLinkService) {
	t.Helper()
	env := newTestEnv(t)
	svc := NewMagicLinkService(env.store, env.auth, env.tokens, env.mailer, env.events, nil, "https://app.example.com")
	return env, svc
}

// linkSecret pulls the raw token out of a generated login URL.
func linkSecret(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	secret := u.Query().Get("token")
	if secret == "" {
		t.Fatalf("link %q carries no token", rawURL)
	}
	return secret
}

func TestGenerateDefaults(t *testing.T) {
	env, svc := newMagicEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)

	link, err := svc.Generate(context.Background(), GenerateInput{AccountID: account.ID}, core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}

	if link.Token.Purpose != "login" {
		t.Fatalf("purpose = %q, want login", link.Token.Purpose)
	}
	if link.Token.RedirectURL != "/dashboard/" {
		t.Fatalf("redirect = %q", link.Token.RedirectURL)
	}
	if link.Token.MaxUses != 1 {
		t.Fatalf("max uses = %d, want 1", link.Token.MaxUses)
	}
	if !strings.HasPrefix(link.URL, "https://app.example.com/magic-login?") {
		t.Fatalf("url = %q", link.URL)
	}

	ttl := time.Until(link.Token.ExpiresAt)
	if ttl < 23*time.Hour || ttl > 24*time.Hour {
		t.Fatalf("ttl = %s, want about 24h", ttl)
	}
}

func TestGenerateRejectsUnusableAccount(t *testing.T) {
	env, svc := newMagicEnv(t)
	inactive := env.createAccount(t, "bob@example.com", "Sup3r#secret", false)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, GenerateInput{AccountID: "missing"}, core.RequestContext{}); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := svc.Generate(ctx, GenerateInput{AccountID: inactive.ID}, core.RequestContext{}); !errors.Is(err, core.ErrAccountInactive) {
		t.Fatalf("got %v", err)
	}
}

func TestLoginWithTokenSingleUse(t *testing.T) {
	env, svc := newMagicEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()
	rc := core.RequestContext{IP: "10.0.0.1"}

	link, err := svc.Generate(ctx, GenerateInput{AccountID: account.ID, RedirectURL: "/settings?tab=2"}, rc)
	if err != nil {
		t.Fatal(err)
	}
	secret := linkSecret(t, link.URL)

	result, redirect, err := svc.LoginWithToken(ctx, env.web(), secret, rc)
	if err != nil {
		t.Fatal(err)
	}
	if result.Account.ID != account.ID || result.Token == "" {
		t.Fatalf("result = %+v", result)
	}
	if redirect != "/settings?tab=2" {
		t.Fatalf("redirect = %q, want the stored target verbatim", redirect)
	}

	// A second redemption is rejected.
	if _, _, err := svc.LoginWithToken(ctx, env.web(), secret, rc); !errors.Is(err, core.ErrTokenExhausted) {
		t.Fatalf("got %v, want ErrTokenExhausted", err)
	}
}

func TestLoginWithTokenIPAllowList(t *testing.T) {
	env, svc := newMagicEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	link, err := svc.Generate(ctx, GenerateInput{
		AccountID:   account.ID,
		IPAllowList: []string{"10.0.0.1"},
	}, core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}
	secret := linkSecret(t, link.URL)

	if _, _, err := svc.LoginWithToken(ctx, env.web(), secret, core.RequestContext{IP: "192.168.1.9"}); !errors.Is(err, core.ErrTokenIPDenied) {
		t.Fatalf("got %v, want ErrTokenIPDenied", err)
	}
	if _, _, err := svc.LoginWithToken(ctx, env.web(), secret, core.RequestContext{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("allowed ip rejected: %v", err)
	}
}

func TestRevokeLink(t *testing.T) {
	env, svc := newMagicEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	link, err := svc.Generate(ctx, GenerateInput{AccountID: account.ID}, core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Revoke(ctx, link.Token.ID, core.RequestContext{}); err != nil {
		t.Fatal(err)
	}

	secret := linkSecret(t, link.URL)
	if _, _, err := svc.LoginWithToken(ctx, env.web(), secret, core.RequestContext{}); err == nil {
		t.Fatal("revoked link must not log in")
	}

	if err := svc.Revoke(ctx, "no-such-id", core.RequestContext{}); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestLinkStats(t *testing.T) {
	env, svc := newMagicEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()
	rc := core.RequestContext{IP: "10.0.0.1"}

	active, err := svc.Generate(ctx, GenerateInput{AccountID: account.ID}, rc)
	if err != nil {
		t.Fatal(err)
	}
	_ = active

	used, err := svc.Generate(ctx, GenerateInput{AccountID: account.ID}, rc)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.LoginWithToken(ctx, env.web(), linkSecret(t, used.URL), rc); err != nil {
		t.Fatal(err)
	}

	expired, err := svc.Generate(ctx, GenerateInput{AccountID: account.ID, TTL: time.Minute}, rc)
	if err != nil {
		t.Fatal(err)
	}
	_ = expired
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	stats, err := svc.Stats(ctx, account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Active != 1 || stats.Used != 1 || stats.Expired != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSendEmail(t *testing.T) {
	env, svc := newMagicEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)

	link, err := svc.SendEmail(context.Background(), GenerateInput{AccountID: account.ID}, "", core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}

	if len(env.mailer.Sent) != 1 {
		t.Fatalf("sent %d mails", len(env.mailer.Sent))
	}
	mail := env.mailer.Sent[0]
	if mail.To != "alice@example.com" {
		t.Fatalf("to = %q", mail.To)
	}
	if !strings.Contains(mail.Body, link.URL) {
		t.Fatal("mail body must carry the login link")
	}
}
