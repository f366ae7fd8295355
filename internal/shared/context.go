package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting employee UUID in context.
func ContextWithActor(ctx context.Context, actorUUID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorUUID)
}

// ActorFromContext extracts the acting employee UUID, empty when the request carried none.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
