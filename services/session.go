package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/crypto"
)

const sessionKeyPrefix = "gh:session:"

// SessionManager owns server-side session state. A fresh identifier and a
// fresh secret are generated on every Create, so a successful
// authentication never reuses an old session id.
type SessionManager struct {
	config  core.SessionConfig
	storage core.SessionStorage
	cache   core.Cache // optional, can be nil if caching is disabled
	ids     *crypto.IDGenerator
	now     func() time.Time
}

// CreateSessionResult couples the persisted session with the raw secret
// handed to the client.
type CreateSessionResult struct {
	Session *core.Session `json:"session"`
	Token   string        `json:"token"`
}

func NewSessionManager(config core.SessionConfig, storage core.SessionStorage, cache core.Cache) *SessionManager {
	ids, _ := crypto.NewIDGenerator("")
	return &SessionManager{config: config, storage: storage, cache: cache, ids: ids, now: time.Now}
}

// Create establishes a new session for accountID under the given guard.
// The guard's timeout wins over the manager-wide MaxAge when set.
func (sm *SessionManager) Create(ctx context.Context, accountID string, guard core.GuardConfig, rc core.RequestContext) (*CreateSessionResult, error) {
	pair, err := crypto.GeneratePair(0)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	sessionID, err := sm.ids.Generate(0)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	maxAge := sm.config.MaxAge
	if guard.Timeout > 0 {
		maxAge = guard.Timeout
	}

	now := sm.now()
	session := &core.Session{
		ID:        sessionID,
		AccountID: accountID,
		Guard:     guard.Name,
		TokenHash: pair.Hash,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(maxAge),
	}

	if err := sm.storage.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// We don't fail the request if caching fails
	sm.cacheSet(ctx, session)

	return &CreateSessionResult{Session: session, Token: pair.Secret}, nil
}

// Verify resolves a raw session token to a live session, consulting the
// cache first and falling back to storage.
func (sm *SessionManager) Verify(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, core.ErrInvalidToken
	}

	tokenHash := crypto.HashSecret(token)

	if session, ok := sm.cacheGet(ctx, tokenHash); ok {
		if sm.now().After(session.ExpiresAt) {
			_ = sm.cacheDelete(ctx, tokenHash)
			return nil, core.ErrSessionExpired
		}
		return session, nil
	}

	session, err := sm.storage.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		if err == core.ErrSessionNotFound {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if sm.now().After(session.ExpiresAt) {
		return nil, core.ErrSessionExpired
	}

	sm.cacheSet(ctx, session)
	return session, nil
}

// Destroy removes the session identified by a raw token. Destroying an
// unknown token reports core.ErrSessionNotFound.
func (sm *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return core.ErrInvalidToken
	}

	tokenHash := crypto.HashSecret(token)

	if err := sm.storage.DeleteSessionByHash(ctx, tokenHash); err != nil {
		return err
	}

	_ = sm.cacheDelete(ctx, tokenHash)
	return nil
}

// DestroyBySessionID removes a session by its identifier, e.g. from an
// admin surface.
func (sm *SessionManager) DestroyBySessionID(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return core.ErrSessionNotFound
	}

	if sm.cache != nil {
		session, err := sm.storage.GetSessionByID(ctx, sessionID)
		if err == nil && session != nil {
			_ = sm.cacheDelete(ctx, session.TokenHash)
		}
	}

	return sm.storage.DeleteSessionByID(ctx, sessionID)
}

// DestroyAllAccountSessions removes every session owned by accountID and
// returns how many existed.
func (sm *SessionManager) DestroyAllAccountSessions(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, core.ErrAccountNotFound
	}

	count, err := sm.storage.DeleteAccountSessions(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (sm *SessionManager) cacheGet(ctx context.Context, tokenHash string) (*core.Session, bool) {
	if sm.cache == nil {
		return nil, false
	}
	raw, err := sm.cache.Get(ctx, sessionKeyPrefix+tokenHash)
	if err != nil {
		return nil, false
	}
	var session core.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, false
	}
	session.TokenHash = tokenHash
	return &session, true
}

func (sm *SessionManager) cacheSet(ctx context.Context, session *core.Session) {
	if sm.cache == nil {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	_ = sm.cache.Set(ctx, sessionKeyPrefix+session.TokenHash, raw, ttl)
}

func (sm *SessionManager) cacheDelete(ctx context.Context, tokenHash string) error {
	if sm.cache == nil {
		return nil
	}
	return sm.cache.Delete(ctx, sessionKeyPrefix+tokenHash)
}
