package directory

import (
	"context"
	"time"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// DefaultSessionTTL is how long an unlock or reveal session stays valid.
const DefaultSessionTTL = 15 * time.Minute

// Session is a short-lived grant of access to one folder (and its
// descendants). It lives only in the KV store.
type Session struct {
	Token      string `json:"token"`
	FolderPath string `json:"folderPath"`
	FolderKey  string `json:"folderKey"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// sessionStore manages one session kind (encrypted-unlock or hidden-reveal)
// in the KV store. The same session document is written under every path
// that should resolve to it, so a request naming a child finds the grant
// without walking ancestors at validation time.
type sessionStore struct {
	kv         kv.Store
	ttl        time.Duration
	key        func(owner, path string) string
	keyPattern func(owner, path string) string
	now        func() time.Time
}

func newEncryptedSessionStore(store kv.Store, ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionStore{
		kv:         store,
		ttl:        ttl,
		key:        kvkeys.EncryptedSession,
		keyPattern: kvkeys.EncryptedSessionPattern,
		now:        time.Now,
	}
}

func newHiddenSessionStore(store kv.Store, ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionStore{
		kv:         store,
		ttl:        ttl,
		key:        kvkeys.HiddenSession,
		keyPattern: kvkeys.HiddenSessionPattern,
		now:        time.Now,
	}
}

// Create mints a session for folderPath and stores it under every path in
// aliases (normally the matched folder plus the originally requested
// path). Returns the session.
func (s *sessionStore) Create(ctx context.Context, owner, folderPath, folderKey string, aliases ...string) (Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		Token:      token,
		FolderPath: folderPath,
		FolderKey:  folderKey,
		ExpiresAt:  s.now().Add(s.ttl).Unix(),
	}

	paths := map[string]bool{pathutil.NormalizeDir(folderPath): true}
	for _, a := range aliases {
		paths[pathutil.NormalizeDir(a)] = true
	}
	for p := range paths {
		if err := s.kv.Set(ctx, s.key(owner, p), sess, s.ttl); err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

// Validate resolves the session stored for path and checks the token.
// Returns nil on any failure: missing entry, token mismatch, or expiry
// (expired entries are deleted eagerly).
func (s *sessionStore) Validate(ctx context.Context, owner, path, token string) *Session {
	if token == "" {
		return nil
	}

	var sess Session
	found, err := s.kv.Get(ctx, s.key(owner, pathutil.NormalizeDir(path)), &sess)
	if err != nil {
		logger.Warn("session read failed", logger.KeyOwner, owner, logger.KeyError, err)
		return nil
	}
	if !found || sess.Token != token {
		return nil
	}
	if sess.ExpiresAt < s.now().Unix() {
		_ = s.kv.Delete(ctx, s.key(owner, pathutil.NormalizeDir(path)))
		return nil
	}
	return &sess
}

// ValidateCovering checks the token against the session stored for path or
// any ancestor, so callers holding a parent grant can act on children.
func (s *sessionStore) ValidateCovering(ctx context.Context, owner, path, token string) *Session {
	for _, p := range pathutil.SelfAndAncestors(path) {
		if sess := s.Validate(ctx, owner, p, token); sess != nil {
			return sess
		}
	}
	return nil
}

// Drop removes the session for path and every descendant alias. The
// exact key and the descendant pattern are deleted separately so a
// sibling folder sharing the textual prefix keeps its session.
func (s *sessionStore) Drop(ctx context.Context, owner, path string) error {
	path = pathutil.NormalizeDir(path)
	if err := s.kv.Delete(ctx, s.key(owner, path)); err != nil {
		return err
	}
	_, err := s.kv.DeleteByPattern(ctx, s.keyPattern(owner, path))
	return err
}
