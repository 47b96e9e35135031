package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mfreitas/gatehouse/core"
)

// In-memory fakes shared by the service tests. Error fields inject
// failures per port so infrastructure-fault paths can be exercised.

// FakeStorage implements core.Storage over maps.
type FakeStorage struct {
	mu sync.Mutex

	Accounts map[string]*core.Account
	Sessions map[string]*core.Session
	Tokens   map[core.TokenKind]map[string]*core.BearerToken
	History  map[string][]*core.PasswordHistoryEntry
	Attempts []*core.AttemptRecord

	AccountErr error
	SessionErr error
	TokenErr   error
	HistoryErr error
	AttemptErr error
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		Accounts: make(map[string]*core.Account),
		Sessions: make(map[string]*core.Session),
		Tokens:   make(map[core.TokenKind]map[string]*core.BearerToken),
		History:  make(map[string][]*core.PasswordHistoryEntry),
	}
}

func (f *FakeStorage) CreateAccount(_ context.Context, a *core.Account) error {
	if f.AccountErr != nil {
		return f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.Accounts {
		if existing.Email == a.Email {
			return core.ErrAccountExists
		}
	}
	cp := *a
	f.Accounts[a.ID] = &cp
	return nil
}

func (f *FakeStorage) GetAccountByID(_ context.Context, id string) (*core.Account, error) {
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Accounts[id]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *FakeStorage) GetAccountByEmail(_ context.Context, email string) (*core.Account, error) {
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.Accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrAccountNotFound
}

func (f *FakeStorage) GetAccountByUsername(_ context.Context, username string) (*core.Account, error) {
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.Accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrAccountNotFound
}

func (f *FakeStorage) UpdateAccount(_ context.Context, a *core.Account) error {
	if f.AccountErr != nil {
		return f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Accounts[a.ID]; !ok {
		return core.ErrAccountNotFound
	}
	cp := *a
	f.Accounts[a.ID] = &cp
	return nil
}

func (f *FakeStorage) SoftDeleteAccount(_ context.Context, id string) error {
	if f.AccountErr != nil {
		return f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	now := time.Now()
	a.DeletedAt = &now
	return nil
}

func (f *FakeStorage) RecordLogin(_ context.Context, id string, at time.Time, ip string) error {
	if f.AccountErr != nil {
		return f.AccountErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	a.LastLoginAt = &at
	a.LastLoginIP = ip
	a.LoginCount++
	return nil
}

func (f *FakeStorage) CreateSession(_ context.Context, s *core.Session) error {
	if f.SessionErr != nil {
		return f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.Sessions[s.ID] = &cp
	return nil
}

func (f *FakeStorage) GetSessionByHash(_ context.Context, tokenHash string) (*core.Session, error) {
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.Sessions {
		if s.TokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, core.ErrSessionNotFound
}

func (f *FakeStorage) GetSessionByID(_ context.Context, id string) (*core.Session, error) {
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *FakeStorage) DeleteSessionByHash(_ context.Context, tokenHash string) error {
	if f.SessionErr != nil {
		return f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.Sessions {
		if s.TokenHash == tokenHash {
			delete(f.Sessions, id)
			return nil
		}
	}
	return core.ErrSessionNotFound
}

func (f *FakeStorage) DeleteSessionByID(_ context.Context, id string) error {
	if f.SessionErr != nil {
		return f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Sessions[id]; !ok {
		return core.ErrSessionNotFound
	}
	delete(f.Sessions, id)
	return nil
}

func (f *FakeStorage) DeleteAccountSessions(_ context.Context, accountID string) (int, error) {
	if f.SessionErr != nil {
		return 0, f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, s := range f.Sessions {
		if s.AccountID == accountID {
			delete(f.Sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *FakeStorage) DeleteExpiredSessions(_ context.Context) (int, error) {
	if f.SessionErr != nil {
		return 0, f.SessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	n := 0
	for id, s := range f.Sessions {
		if now.After(s.ExpiresAt) {
			delete(f.Sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *FakeStorage) CreateToken(_ context.Context, t *core.BearerToken) error {
	if f.TokenErr != nil {
		return f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Tokens[t.Kind] == nil {
		f.Tokens[t.Kind] = make(map[string]*core.BearerToken)
	}
	cp := *t
	f.Tokens[t.Kind][t.ID] = &cp
	return nil
}

func (f *FakeStorage) GetTokenByHash(_ context.Context, kind core.TokenKind, hash string) (*core.BearerToken, error) {
	if f.TokenErr != nil {
		return nil, f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.Tokens[kind] {
		if t.Hash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, core.ErrTokenNotFound
}

func (f *FakeStorage) GetTokenByID(_ context.Context, kind core.TokenKind, id string) (*core.BearerToken, error) {
	if f.TokenErr != nil {
		return nil, f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tokens[kind][id]
	if !ok {
		return nil, core.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *FakeStorage) ListAccountTokens(_ context.Context, kind core.TokenKind, accountID string, limit int) ([]*core.BearerToken, error) {
	if f.TokenErr != nil {
		return nil, f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.BearerToken
	for _, t := range f.Tokens[kind] {
		if t.AccountID == accountID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConsumeToken mirrors the guarded increment of a real store: the check
// and the bump happen under one lock, so a single-use token has exactly
// one winner under concurrency.
func (f *FakeStorage) ConsumeToken(_ context.Context, kind core.TokenKind, id string, ip string) error {
	if f.TokenErr != nil {
		return f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tokens[kind][id]
	if !ok {
		return core.ErrTokenNotFound
	}
	if t.UsesCount >= t.MaxUses {
		return core.ErrTokenExhausted
	}
	now := time.Now()
	t.UsesCount++
	if ip != "" {
		t.UsedIPs = append(t.UsedIPs, ip)
	}
	if t.FirstUsedAt == nil {
		t.FirstUsedAt = &now
	}
	t.LastUsedAt = &now
	return nil
}

func (f *FakeStorage) RevokeToken(_ context.Context, kind core.TokenKind, id string) error {
	if f.TokenErr != nil {
		return f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Tokens[kind][id]
	if !ok {
		return core.ErrTokenNotFound
	}
	t.ExpiresAt = time.Now().Add(-time.Minute)
	t.UsesCount = t.MaxUses
	return nil
}

func (f *FakeStorage) DeleteAccountTokens(_ context.Context, kind core.TokenKind, accountID string) (int, error) {
	if f.TokenErr != nil {
		return 0, f.TokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, t := range f.Tokens[kind] {
		if t.AccountID == accountID {
			delete(f.Tokens[kind], id)
			n++
		}
	}
	return n, nil
}

func (f *FakeStorage) AddPasswordHistory(_ context.Context, e *core.PasswordHistoryEntry) error {
	if f.HistoryErr != nil {
		return f.HistoryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.History[e.AccountID] = append(f.History[e.AccountID], &cp)
	return nil
}

func (f *FakeStorage) ListPasswordHistory(_ context.Context, accountID string, limit int) ([]*core.PasswordHistoryEntry, error) {
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.History[accountID]
	out := make([]*core.PasswordHistoryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStorage) PrunePasswordHistory(_ context.Context, accountID string, keep int) error {
	if f.HistoryErr != nil {
		return f.HistoryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.History[accountID]
	if keep <= 0 || len(entries) <= keep {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	f.History[accountID] = entries[:keep]
	return nil
}

func (f *FakeStorage) LogAttempt(_ context.Context, r *core.AttemptRecord) error {
	if f.AttemptErr != nil {
		return f.AttemptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.Attempts = append(f.Attempts, &cp)
	return nil
}

// AttemptsOfType returns the recorded attempts matching t.
func (f *FakeStorage) AttemptsOfType(t string) []*core.AttemptRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.AttemptRecord
	for _, a := range f.Attempts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// SentMail records one FakeMailer delivery.
type SentMail struct {
	To      string
	Subject string
	Body    string
	Tag     string
}

// FakeMailer records outbound mail; Err fails every Send.
type FakeMailer struct {
	mu   sync.Mutex
	Sent []SentMail
	Err  error
}

func (f *FakeMailer) Send(_ context.Context, to, subject, htmlBody, _ string, templateTag string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentMail{To: to, Subject: subject, Body: htmlBody, Tag: templateTag})
	return nil
}

// PublishedEvent records one FakeEventSink publication.
type PublishedEvent struct {
	Name    string
	Payload map[string]any
}

// FakeEventSink records published events.
type FakeEventSink struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

func (f *FakeEventSink) Publish(event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, PublishedEvent{Name: event, Payload: payload})
}

// Names lists the recorded event names in order.
func (f *FakeEventSink) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Name
	}
	return out
}
