package accounts

import (
	"context"
)

var actorCtxKey = &contextKey{"actor"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithActorContext sets the actor performing the operation
func WithActorContext(ctx context.Context, actor ActorRef) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// ActorFromContext returns the actor stored in ctx
func ActorFromContext(ctx context.Context) (ActorRef, bool) {
	actor, ok := ctx.Value(actorCtxKey).(ActorRef)
	return actor, ok
}

// WithClaimsContext sets the validated session claims in ctx
func WithClaimsContext(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext returns the session claims stored in ctx
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(*SessionClaims)
	return claims, ok && claims != nil
}

func actorFrom(ctx context.Context) ActorRef {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	if claims, ok := ClaimsFromContext(ctx); ok {
		return ActorRef{ID: claims.Subject, Type: "account"}
	}
	return ActorRef{Type: "system"}
}
