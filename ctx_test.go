package accounts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
)

func TestActorContext(t *testing.T) {
	_, ok := accounts.ActorFromContext(context.Background())
	assert.False(t, ok)

	ctx := accounts.WithActorContext(context.Background(), accounts.ActorRef{ID: "admin", Type: "account"})
	actor, ok := accounts.ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "admin", actor.ID)
}

func TestClaimsContext(t *testing.T) {
	_, ok := accounts.ClaimsFromContext(context.Background())
	assert.False(t, ok)

	_, ok = accounts.ClaimsFromContext(accounts.WithClaimsContext(context.Background(), nil))
	assert.False(t, ok)

	claims := &accounts.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	found, ok := accounts.ClaimsFromContext(accounts.WithClaimsContext(context.Background(), claims))
	require.True(t, ok)
	assert.Same(t, claims, found)
}

func TestActivitySinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	failing := accounts.ActivitySinkFunc(func(context.Context, accounts.ActivityEvent) error {
		return errors.New("sink offline")
	})

	sink := accounts.MultiActivitySink(first, nil, failing, second)
	err := sink.Record(context.Background(), accounts.ActivityEvent{EventType: accounts.ActivityEventAccountCreated})
	assert.ErrorContains(t, err, "sink offline")

	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventAccountCreated}, first.Types())
	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventAccountCreated}, second.Types())
}
