package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/apitoken"
	"github.com/mfreitas/gatehouse/pkg/cache"
	"github.com/mfreitas/gatehouse/pkg/crypto"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// testHasher keeps argon2 parameters small so suites stay fast.
func testHasher() crypto.PasswordHandler {
	return &crypto.Argon2{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type testEnv struct {
	store    *FakeStorage
	cache    *cache.Memory
	hasher   crypto.PasswordHandler
	sessions *SessionManager
	lockout  *LockoutService
	tokens   *TokenService
	mailer   *FakeMailer
	events   *FakeEventSink
	auth     *AuthService
	policy   core.Policy
	guards   map[string]core.GuardConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  NewFakeStorage(),
		cache:  cache.New(core.CacheConfig{}),
		hasher: testHasher(),
		mailer: &FakeMailer{},
		events: &FakeEventSink{},
		policy: core.DefaultPolicy(),
		guards: core.DefaultGuards(),
	}
	env.sessions = NewSessionManager(core.DefaultSessionConfig(), env.store, env.cache)
	env.lockout = NewLockoutService(env.cache, env.store, env.events, nil, env.policy)
	env.tokens = NewTokenService(env.store, nil)
	env.auth = NewAuthService(env.store, env.cache, env.hasher, env.sessions, env.lockout, env.tokens, env.mailer, env.events, nil, env.policy, testSecret)
	return env
}

func (env *testEnv) createAccount(t *testing.T, email, password string, active bool) *core.Account {
	t.Helper()
	hash, err := env.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now()
	account := &core.Account{
		ID:           "acc-" + email,
		Email:        core.NormalizeEmail(email),
		Username:     "",
		PasswordHash: hash,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := env.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func (env *testEnv) web() core.GuardConfig { return env.guards["web"] }

func TestLoginRejections(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		active   bool
		tryEmail string
		tryPass  string
		want     error
	}{
		{
			name:  "unknown email",
			email: "alice@example.com", password: "Sup3r#secret", active: true,
			tryEmail: "nobody@example.com", tryPass: "Sup3r#secret",
			want: core.ErrAccountNotFound,
		},
		{
			name:  "wrong password",
			email: "alice@example.com", password: "Sup3r#secret", active: true,
			tryEmail: "alice@example.com", tryPass: "WrongPass1!",
			want: core.ErrInvalidCredentials,
		},
		{
			name:  "inactive account with right password",
			email: "alice@example.com", password: "Sup3r#secret", active: false,
			tryEmail: "alice@example.com", tryPass: "Sup3r#secret",
			want: core.ErrAccountInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.createAccount(t, tt.email, tt.password, tt.active)

			_, err := env.auth.Login(context.Background(), env.web(), LoginInput{
				Email:    tt.tryEmail,
				Password: tt.tryPass,
			}, core.RequestContext{IP: "10.0.0.1"})

			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	rc := core.RequestContext{IP: "10.0.0.1", UserAgent: "Chrome/1.0"}

	result, err := env.auth.Login(context.Background(), env.web(), LoginInput{
		Email:    "  Alice@Example.COM ",
		Password: "Sup3r#secret",
	}, rc)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if result.Token == "" {
		t.Fatal("expected a session token")
	}
	if result.RememberToken != "" {
		t.Fatal("remember token must not be issued without opt-in")
	}
	if result.Session.Guard != "web" {
		t.Fatalf("guard = %q, want web", result.Session.Guard)
	}

	stored, _ := env.store.GetAccountByID(context.Background(), account.ID)
	if stored.LoginCount != 1 || stored.LastLoginIP != "10.0.0.1" {
		t.Fatalf("login metadata not recorded: count=%d ip=%q", stored.LoginCount, stored.LastLoginIP)
	}

	if len(env.mailer.Sent) != 1 || env.mailer.Sent[0].Tag != mailTagLoginNotification {
		t.Fatalf("expected one login notification, got %+v", env.mailer.Sent)
	}
	if got := env.events.Names(); len(got) != 1 || got[0] != EventLogin {
		t.Fatalf("events = %v", got)
	}
}

func TestLoginLockoutEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()
	rc := core.RequestContext{IP: "10.0.0.1"}

	for i := 0; i < 5; i++ {
		_, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "wrong"}, rc)
		if !errors.Is(err, core.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}

	// Correct password is now irrelevant.
	_, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, rc)
	if !errors.Is(err, core.ErrAccountLocked) {
		t.Fatalf("got %v, want ErrAccountLocked", err)
	}

	// After the lock lapses the same credentials succeed and clear state.
	env.lockout.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
	if _, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, rc); err != nil {
		t.Fatalf("post-lock login: %v", err)
	}
}

func TestInactiveAccountDoesNotFeedLockout(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "alice@example.com", "Sup3r#secret", false)
	ctx := context.Background()
	rc := core.RequestContext{IP: "10.0.0.1"}

	for i := 0; i < 6; i++ {
		_, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, rc)
		if !errors.Is(err, core.ErrAccountInactive) {
			t.Fatalf("attempt %d: got %v, want ErrAccountInactive", i, err)
		}
	}

	locked, err := env.lockout.IsLocked(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if locked {
		t.Fatal("inactive rejections must not lock the identity")
	}
}

func TestRememberFlow(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	result, err := env.auth.Login(ctx, env.web(), LoginInput{
		Email: "alice@example.com", Password: "Sup3r#secret", Remember: true,
	}, core.RequestContext{IP: "10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	if result.RememberToken == "" {
		t.Fatal("expected a remember token")
	}

	// Resolution via remember token alone, with no session.
	got, err := env.auth.CurrentUser(ctx, env.web(), core.RequestContext{
		IP:            "10.0.0.1",
		RememberToken: result.RememberToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != account.ID {
		t.Fatalf("CurrentUser = %+v", got)
	}
}

// countingStorage counts token lookups so tests can tell a cache hit
// from a storage round trip.
type countingStorage struct {
	*FakeStorage
	tokenLookups int
}

func (c *countingStorage) GetTokenByHash(ctx context.Context, kind core.TokenKind, hash string) (*core.BearerToken, error) {
	c.tokenLookups++
	return c.FakeStorage.GetTokenByHash(ctx, kind, hash)
}

func TestRememberResolutionUsesHotCache(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	result, err := env.auth.Login(ctx, env.web(), LoginInput{
		Email: "alice@example.com", Password: "Sup3r#secret", Remember: true,
	}, core.RequestContext{IP: "10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	counting := &countingStorage{FakeStorage: env.store}
	env.auth.tokens = NewTokenService(counting, nil)

	// Only the first remember-only resolution pays for a token lookup;
	// the promoted cache entry serves the rest.
	rc := core.RequestContext{IP: "10.0.0.1", RememberToken: result.RememberToken}
	for i := 0; i < 3; i++ {
		got, err := env.auth.CurrentUser(ctx, env.web(), rc)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.ID != account.ID {
			t.Fatalf("CurrentUser #%d = %+v", i+1, got)
		}
	}
	if counting.tokenLookups != 1 {
		t.Fatalf("token lookups = %d, want 1", counting.tokenLookups)
	}
}

func TestCurrentUserResolutionOrder(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	result, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, core.RequestContext{IP: "10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	rc := core.RequestContext{IP: "10.0.0.1", SessionToken: result.Token}

	got, err := env.auth.CurrentUser(ctx, env.web(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != account.ID {
		t.Fatalf("CurrentUser = %+v", got)
	}

	// Anonymous request resolves to nobody, not an error.
	got, err = env.auth.CurrentUser(ctx, env.web(), core.RequestContext{})
	if err != nil || got != nil {
		t.Fatalf("anonymous: got %+v, %v", got, err)
	}

	// Garbage tokens are a rejection, not a fault.
	got, err = env.auth.CurrentUser(ctx, env.web(), core.RequestContext{SessionToken: "bogus", RememberToken: "bogus"})
	if err != nil || got != nil {
		t.Fatalf("garbage: got %+v, %v", got, err)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	result, err := env.auth.Login(ctx, env.web(), LoginInput{
		Email: "alice@example.com", Password: "Sup3r#secret", Remember: true,
	}, core.RequestContext{IP: "10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	rc := core.RequestContext{IP: "10.0.0.1", SessionToken: result.Token}
	ok, err := env.auth.Logout(ctx, rc)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("logout of a live session must report true")
	}

	// The session and the remember token are both gone.
	if got, err := env.auth.CurrentUser(ctx, env.web(), rc); err != nil || got != nil {
		t.Fatalf("session survived logout: %+v, %v", got, err)
	}
	if got, err := env.auth.CurrentUser(ctx, env.web(), core.RequestContext{RememberToken: result.RememberToken}); err != nil || got != nil {
		t.Fatalf("remember token survived logout: %+v, %v", got, err)
	}

	// Logging out again is a no-op.
	ok, err = env.auth.Logout(ctx, rc)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second logout must report false")
	}
}

func TestOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		want     bool
	}{
		{"valid", "alice@example.com", "Sup3r#secret", true},
		{"wrong password", "alice@example.com", "nope", false},
		{"unknown email", "bob@example.com", "Sup3r#secret", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.auth.Once(ctx, tt.email, tt.password)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("Once = %v, want %v", got, tt.want)
			}
		})
	}

	// Once never creates sessions.
	if len(env.store.Sessions) != 0 {
		t.Fatalf("Once created %d sessions", len(env.store.Sessions))
	}
}

func TestActiveSessionsCounter(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	result, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}
	if n := env.auth.ActiveSessions(ctx); n != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", n)
	}

	if _, err := env.auth.Logout(ctx, core.RequestContext{SessionToken: result.Token}); err != nil {
		t.Fatal(err)
	}
	if n := env.auth.ActiveSessions(ctx); n != 0 {
		t.Fatalf("ActiveSessions = %d, want 0", n)
	}
}

func TestAPITokenForTokenDriverGuard(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "alice@example.com", "Sup3r#secret", true)
	ctx := context.Background()

	result, err := env.auth.Login(ctx, env.guards["api"], LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}
	if result.APIToken == "" {
		t.Fatal("token-driver guard must issue a signed credential")
	}

	accountID, guardName, err := apitoken.Parse(result.APIToken, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if accountID != account.ID || guardName != "api" {
		t.Fatalf("claims = %q/%q", accountID, guardName)
	}

	// Session-driver guards never carry one.
	webResult, err := env.auth.Login(ctx, env.web(), LoginInput{Email: "alice@example.com", Password: "Sup3r#secret"}, core.RequestContext{})
	if err != nil {
		t.Fatal(err)
	}
	if webResult.APIToken != "" {
		t.Fatal("session-driver guard must not issue a signed credential")
	}
}
