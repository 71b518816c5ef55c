package authz

import "context"

type abilityContextKey struct{}

// ContextWithAbility stores the request-scoped ability in context.
func ContextWithAbility(ctx context.Context, ability *Ability) context.Context {
	return context.WithValue(ctx, abilityContextKey{}, ability)
}

// AbilityFromContext extracts the ability from context. A missing ability
// returns nil, which denies everything.
func AbilityFromContext(ctx context.Context) *Ability {
	ability, _ := ctx.Value(abilityContextKey{}).(*Ability)
	return ability
}
