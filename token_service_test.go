package accounts_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAccount() *accounts.Account {
	return &accounts.Account{
		ID:              uuid.New(),
		Username:        "ada",
		Email:           "ada@example.com",
		PermissionLevel: accounts.PermissionMember,
	}
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "go-accounts", []string{"go-accounts"},
		accounts.WithTokenLogger(accounts.NoopLogger()))

	account := testAccount()
	token, err := ts.Issue(context.Background(), account.Identity())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.Validate(context.Background(), token)
	require.NoError(t, err)

	id, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
	assert.Equal(t, "member", claims.PermissionLevel)
	assert.Equal(t, "go-accounts", claims.Issuer)
	assert.NotEmpty(t, claims.TokenID())
	assert.WithinDuration(t, claims.Issued().Add(time.Hour), claims.Expires(), time.Second)
}

func TestTokenService_TokensAreDistinct(t *testing.T) {
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "", nil)
	account := testAccount()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		token, err := ts.Issue(context.Background(), account.Identity())
		require.NoError(t, err)
		assert.False(t, seen[token], "token issued twice")
		seen[token] = true
	}
}

func TestTokenService_DefaultExpiration(t *testing.T) {
	ts := accounts.NewTokenService(testSigningKey, 0, "", nil)
	assert.Equal(t, accounts.DefaultTokenExpiration, ts.TTL())
}

func TestTokenService_ExpiredToken(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "go-accounts", nil,
		accounts.WithTokenClock(clock.Now))

	token, err := ts.Issue(context.Background(), testAccount().Identity())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	_, err = ts.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, accounts.IsTokenError(err))
	assert.ErrorContains(t, err, accounts.TextCodeTokenExpired)
}

func TestTokenService_RejectsTamperedTokens(t *testing.T) {
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "go-accounts", []string{"go-accounts"})
	other := accounts.NewTokenService([]byte("another-key-another-key-another!"), time.Hour, "go-accounts", []string{"go-accounts"})
	wrongIssuer := accounts.NewTokenService(testSigningKey, time.Hour, "someone-else", []string{"go-accounts"})

	foreign, err := other.Issue(context.Background(), testAccount().Identity())
	require.NoError(t, err)
	misissued, err := wrongIssuer.Issue(context.Background(), testAccount().Identity())
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
		"iss": "go-accounts",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong key", foreign},
		{"wrong issuer", misissued},
		{"alg none", noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Validate(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, accounts.IsTokenError(err))
			assert.ErrorContains(t, err, accounts.TextCodeTokenMalformed)
		})
	}
}

func TestTokenService_MissingSigningKey(t *testing.T) {
	ts := accounts.NewTokenService(nil, time.Hour, "", nil)

	_, err := ts.Issue(context.Background(), testAccount().Identity())
	require.Error(t, err)
	assert.True(t, accounts.IsDependencyFailure(err))
}

func TestTokenService_RejectsIdentityWithoutID(t *testing.T) {
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "", nil)

	_, err := ts.Issue(context.Background(), (&accounts.Account{}).Identity())
	assert.Error(t, err)
}

func TestTokenService_RevocationWithRegistry(t *testing.T) {
	registry := accounts.NewMemorySessionRegistry(time.Minute)
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "go-accounts", nil,
		accounts.WithSessionRegistry(registry))

	account := testAccount()
	first, err := ts.Issue(context.Background(), account.Identity())
	require.NoError(t, err)
	second, err := ts.Issue(context.Background(), account.Identity())
	require.NoError(t, err)

	require.NoError(t, ts.Revoke(context.Background(), first))

	_, err = ts.Validate(context.Background(), first)
	require.Error(t, err)
	assert.ErrorContains(t, err, accounts.TextCodeTokenRevoked)

	_, err = ts.Validate(context.Background(), second)
	require.NoError(t, err)

	require.NoError(t, ts.RevokeAccount(context.Background(), account.ID))

	_, err = ts.Validate(context.Background(), second)
	require.Error(t, err)
	assert.ErrorContains(t, err, accounts.TextCodeTokenRevoked)
}

func TestTokenService_StatelessRevokeIsNoop(t *testing.T) {
	ts := accounts.NewTokenService(testSigningKey, time.Hour, "", nil)
	account := testAccount()

	token, err := ts.Issue(context.Background(), account.Identity())
	require.NoError(t, err)

	require.NoError(t, ts.RevokeAccount(context.Background(), account.ID))

	_, err = ts.Validate(context.Background(), token)
	assert.NoError(t, err)
}

type stubConfig struct {
	key string
	ttl time.Duration
}

func (c stubConfig) GetSigningKey() string { return c.key }
func (c stubConfig) GetTokenExpiration() time.Duration { return c.ttl }
func (c stubConfig) GetIssuer() string { return "go-accounts" }
func (c stubConfig) GetAudience() []string { return []string{"go-accounts"} }
func (c stubConfig) GetPasswordCost() int { return 4 }
func (c stubConfig) GetReserveDeletedIdentifiers() bool { return true }
func (c stubConfig) GetDefaultPermissionLevel() string { return "member" }
func (c stubConfig) GetDefaultPhoneRegion() string { return "GB" }

func TestNewTokenServiceFromConfig(t *testing.T) {
	ts := accounts.NewTokenServiceFromConfig(stubConfig{key: string(testSigningKey), ttl: 30 * time.Minute})
	assert.Equal(t, 30*time.Minute, ts.TTL())

	token, err := ts.Issue(context.Background(), testAccount().Identity())
	require.NoError(t, err)

	claims, err := ts.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "go-accounts", claims.Issuer)
}
