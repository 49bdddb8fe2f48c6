package shared

import "context"

type actorContextKey struct{}

// AnonymousActor is recorded when no identity is attached to the request,
// e.g. when the engine runs in offline mode.
const AnonymousActor = "anonymous"

// ContextWithActor stores the acting identity in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting identity, falling back to AnonymousActor.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return AnonymousActor
	}
	return actor
}
