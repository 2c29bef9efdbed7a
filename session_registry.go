package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const TextCodeSessionNotFound = "SESSION_NOT_FOUND"

// ErrSessionNotFound is returned when a token id is not registered
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// Session is the server side record of an issued token
type Session struct {
	TokenID   string    `json:"jti"`
	AccountID uuid.UUID `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) ttl(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// SessionRegistry tracks issued tokens so they can be revoked
type SessionRegistry interface {
	Register(ctx context.Context, session Session) error
	Lookup(ctx context.Context, tokenID string) (*Session, error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeAccount(ctx context.Context, accountID uuid.UUID) (int, error)
}

// MemorySessionRegistry keeps sessions in process memory
type MemorySessionRegistry struct {
	mu       sync.Mutex
	sessions *cache.Cache
	accounts map[uuid.UUID]map[string]time.Time
	now      func() time.Time
}

// NewMemorySessionRegistry creates an in-process registry. Expired
// sessions are purged every cleanupInterval.
func NewMemorySessionRegistry(cleanupInterval time.Duration) *MemorySessionRegistry {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &MemorySessionRegistry{
		sessions: cache.New(cache.NoExpiration, cleanupInterval),
		accounts: make(map[uuid.UUID]map[string]time.Time),
		now:      time.Now,
	}
}

func (r *MemorySessionRegistry) Register(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sessions.Set(session.TokenID, session, session.ttl(now))

	tokens, ok := r.accounts[session.AccountID]
	if !ok {
		tokens = make(map[string]time.Time)
		r.accounts[session.AccountID] = tokens
	}
	tokens[session.TokenID] = session.ExpiresAt

	for id, exp := range tokens {
		if now.After(exp) {
			delete(tokens, id)
		}
	}

	return nil
}

func (r *MemorySessionRegistry) Lookup(ctx context.Context, tokenID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, ok := r.sessions.Get(tokenID)
	if !ok {
		return nil, errWithMeta(ErrSessionNotFound, map[string]any{"jti": tokenID})
	}

	session := raw.(Session)
	return &session, nil
}

func (r *MemorySessionRegistry) Revoke(ctx context.Context, tokenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if raw, ok := r.sessions.Get(tokenID); ok {
		session := raw.(Session)
		if tokens, ok := r.accounts[session.AccountID]; ok {
			delete(tokens, tokenID)
		}
	}
	r.sessions.Delete(tokenID)
	return nil
}

func (r *MemorySessionRegistry) RevokeAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := r.accounts[accountID]
	revoked := 0
	for id := range tokens {
		if _, ok := r.sessions.Get(id); ok {
			revoked++
		}
		r.sessions.Delete(id)
	}
	delete(r.accounts, accountID)

	return revoked, nil
}

// RedisSessionRegistry shares sessions across service instances
type RedisSessionRegistry struct {
	client    redis.UniversalClient
	namespace string
	now       func() time.Time
}

// NewRedisSessionRegistry stores sessions under namespace:session:<jti>
// and indexes them per account under namespace:account:<id>.
func NewRedisSessionRegistry(client redis.UniversalClient, namespace string) *RedisSessionRegistry {
	if namespace == "" {
		namespace = "accounts"
	}
	return &RedisSessionRegistry{
		client:    client,
		namespace: namespace,
		now:       time.Now,
	}
}

func (r *RedisSessionRegistry) sessionKey(tokenID string) string {
	return r.namespace + ":session:" + tokenID
}

func (r *RedisSessionRegistry) accountKey(accountID uuid.UUID) string {
	return r.namespace + ":account:" + accountID.String()
}

func (r *RedisSessionRegistry) Register(ctx context.Context, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to encode session")
	}

	ttl := session.ttl(r.now())
	accountKey := r.accountKey(session.AccountID)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(session.TokenID), payload, ttl)
		pipe.SAdd(ctx, accountKey, session.TokenID)
		pipe.Expire(ctx, accountKey, ttl)
		return nil
	})
	if err != nil {
		return NewDependencyFailure(err, "unable to register session", map[string]any{
			"jti": session.TokenID,
		})
	}
	return nil
}

func (r *RedisSessionRegistry) Lookup(ctx context.Context, tokenID string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errWithMeta(ErrSessionNotFound, map[string]any{"jti": tokenID})
		}
		return nil, NewDependencyFailure(err, "unable to load session", map[string]any{"jti": tokenID})
	}

	session := &Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to decode session")
	}
	return session, nil
}

func (r *RedisSessionRegistry) Revoke(ctx context.Context, tokenID string) error {
	session, err := r.Lookup(ctx, tokenID)
	if err != nil {
		if hasTextCode(err, TextCodeSessionNotFound) {
			return nil
		}
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(tokenID))
		pipe.SRem(ctx, r.accountKey(session.AccountID), tokenID)
		return nil
	})
	if err != nil {
		return NewDependencyFailure(err, "unable to revoke session", map[string]any{"jti": tokenID})
	}
	return nil
}

func (r *RedisSessionRegistry) RevokeAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	accountKey := r.accountKey(accountID)

	tokens, err := r.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return 0, NewDependencyFailure(err, "unable to list account sessions", map[string]any{
			"account_id": accountID.String(),
		})
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, id := range tokens {
		keys = append(keys, r.sessionKey(id))
	}

	revoked := int64(0)
	if len(keys) > 0 {
		revoked, err = r.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, NewDependencyFailure(err, "unable to revoke account sessions", map[string]any{
				"account_id": accountID.String(),
			})
		}
	}

	if err := r.client.Del(ctx, accountKey).Err(); err != nil {
		return int(revoked), NewDependencyFailure(err, "unable to clear account session index", map[string]any{
			"account_id": accountID.String(),
		})
	}

	return int(revoked), nil
}
