package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor id supplied by the auth layer.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor id, returning 0 when unauthenticated.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
