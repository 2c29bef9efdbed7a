package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
)

func registries(t *testing.T) map[string]accounts.SessionRegistry {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]accounts.SessionRegistry{
		"memory": accounts.NewMemorySessionRegistry(time.Minute),
		"redis":  accounts.NewRedisSessionRegistry(client, "test"),
	}
}

func newSession(accountID uuid.UUID) accounts.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return accounts.Session{
		TokenID:   uuid.NewString(),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	for name, registry := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := newSession(uuid.New())

			require.NoError(t, registry.Register(ctx, session))

			found, err := registry.Lookup(ctx, session.TokenID)
			require.NoError(t, err)
			assert.Equal(t, session.AccountID, found.AccountID)
			assert.True(t, session.ExpiresAt.Equal(found.ExpiresAt))

			_, err = registry.Lookup(ctx, "unknown")
			require.Error(t, err)
			assert.ErrorContains(t, err, accounts.TextCodeSessionNotFound)
		})
	}
}

func TestSessionRegistry_Revoke(t *testing.T) {
	for name, registry := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := newSession(uuid.New())
			require.NoError(t, registry.Register(ctx, session))

			require.NoError(t, registry.Revoke(ctx, session.TokenID))

			_, err := registry.Lookup(ctx, session.TokenID)
			assert.Error(t, err)

			// revoking twice is not an error
			assert.NoError(t, registry.Revoke(ctx, session.TokenID))
		})
	}
}

func TestSessionRegistry_RevokeAccount(t *testing.T) {
	for name, registry := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			target := uuid.New()
			bystander := uuid.New()

			first := newSession(target)
			second := newSession(target)
			other := newSession(bystander)

			for _, s := range []accounts.Session{first, second, other} {
				require.NoError(t, registry.Register(ctx, s))
			}

			revoked, err := registry.RevokeAccount(ctx, target)
			require.NoError(t, err)
			assert.Equal(t, 2, revoked)

			_, err = registry.Lookup(ctx, first.TokenID)
			assert.Error(t, err)
			_, err = registry.Lookup(ctx, second.TokenID)
			assert.Error(t, err)

			_, err = registry.Lookup(ctx, other.TokenID)
			assert.NoError(t, err)

			revoked, err = registry.RevokeAccount(ctx, target)
			require.NoError(t, err)
			assert.Zero(t, revoked)
		})
	}
}

func TestRedisSessionRegistry_SessionsExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := accounts.NewRedisSessionRegistry(client, "test")
	session := newSession(uuid.New())
	require.NoError(t, registry.Register(context.Background(), session))

	mr.FastForward(2 * time.Hour)

	_, err := registry.Lookup(context.Background(), session.TokenID)
	require.Error(t, err)
	assert.ErrorContains(t, err, accounts.TextCodeSessionNotFound)
}

func TestRedisSessionRegistry_UnavailableBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	registry := accounts.NewRedisSessionRegistry(client, "test")
	mr.Close()

	err := registry.Register(context.Background(), newSession(uuid.New()))
	require.Error(t, err)
	assert.True(t, accounts.IsDependencyFailure(err))
}
