package models

import "context"

// Actor - уже аутентифицированный участник запроса.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type actorKey struct{}

// WithActor кладёт участника в контекст запроса.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext достаёт участника из контекста.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.ID != ""
}
