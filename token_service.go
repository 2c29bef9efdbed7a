package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultTokenExpiration is used when no expiration is configured
const DefaultTokenExpiration = 24 * time.Hour

// TokenService issues and validates HS256 session tokens
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	registry   SessionRegistry
	logger     Logger
	now        func() time.Time
}

var _ TokenIssuer = (*TokenService)(nil)

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithSessionRegistry tracks issued tokens so they can be revoked. Without a
// registry tokens are stateless and valid until they expire.
func WithSessionRegistry(registry SessionRegistry) TokenServiceOption {
	return func(ts *TokenService) {
		ts.registry = registry
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// WithTokenClock overrides the clock used to stamp and verify tokens
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience []string, opts ...TokenServiceOption) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenExpiration
	}

	ts := &TokenService{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   jwt.ClaimStrings(audience),
		logger:     defLogger{},
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// NewTokenServiceFromConfig creates a TokenService from Config getters
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) *TokenService {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		opts...,
	)
}

// TTL returns the configured token lifetime
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// Issue mints a token bound to identity. Every call yields a distinct
// token id, so two tokens never share a value.
func (ts *TokenService) Issue(ctx context.Context, identity Identity) (string, error) {
	if identity == nil || identity.ID() == "" {
		return "", goerrors.New("identity must have an id", goerrors.CategoryInternal)
	}

	accountID, err := uuid.Parse(identity.ID())
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "identity id is not a valid uuid")
	}
	if accountID == uuid.Nil {
		return "", goerrors.New("identity must have an id", goerrors.CategoryInternal)
	}

	now := ts.now().UTC()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
		UID:             identity.ID(),
		PermissionLevel: identity.PermissionLevel(),
	}

	ensureTokenID(&claims.RegisteredClaims)

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return "", err
	}

	if ts.registry != nil {
		session := Session{
			TokenID:   claims.ID,
			AccountID: accountID,
			IssuedAt:  now,
			ExpiresAt: claims.ExpiresAt.Time,
		}
		if err := ts.registry.Register(ctx, session); err != nil {
			return "", NewDependencyFailure(err, "unable to register session", map[string]any{
				"account_id": identity.ID(),
			})
		}
	}

	return signed, nil
}

// SignClaims signs claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *SessionClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	if len(ts.signingKey) == 0 {
		return "", NewDependencyFailure(jwt.ErrInvalidKey, "token signing key is not configured")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", NewDependencyFailure(err, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and verifies a token, then checks it against the session
// registry when one is configured.
func (ts *TokenService) Validate(ctx context.Context, tokenString string) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired.Clone()
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		ts.logger.Error("token validate could not decode claims")
		return nil, ErrTokenMalformed.Clone()
	}

	accountID, err := claims.AccountID()
	if err != nil {
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, "token subject is not an account id").
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	if ts.registry == nil {
		return claims, nil
	}

	session, err := ts.registry.Lookup(ctx, claims.TokenID())
	if err != nil {
		if hasTextCode(err, TextCodeSessionNotFound) {
			return nil, errWithMeta(ErrTokenRevoked, map[string]any{"jti": claims.TokenID()})
		}
		return nil, NewDependencyFailure(err, "unable to verify session")
	}

	if session.AccountID != accountID {
		ts.logger.Warn("token session bound to a different account", "jti", claims.TokenID())
		return nil, errWithMeta(ErrTokenRevoked, map[string]any{"jti": claims.TokenID()})
	}

	return claims, nil
}

// Revoke invalidates a single token
func (ts *TokenService) Revoke(ctx context.Context, tokenString string) error {
	if ts.registry == nil {
		return nil
	}

	claims, err := ts.Validate(ctx, tokenString)
	if err != nil {
		return err
	}

	return ts.registry.Revoke(ctx, claims.TokenID())
}

// RevokeAccount invalidates every token issued to the account
func (ts *TokenService) RevokeAccount(ctx context.Context, accountID uuid.UUID) error {
	if ts.registry == nil {
		return nil
	}

	revoked, err := ts.registry.RevokeAccount(ctx, accountID)
	if err != nil {
		return err
	}

	ts.logger.Debug("revoked account sessions", "account_id", accountID.String(), "count", revoked)
	return nil
}
