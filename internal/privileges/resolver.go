package privileges

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/shared"
)

// Resolver produces a user's effective rule set, consulting the cache first
// and falling back to the rule store on a miss. Concurrent misses for the
// same user are collapsed into a single store fetch.
type Resolver struct {
	cache   Cache
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.AuthzMetrics
	group   singleflight.Group
}

// NewResolver constructs a Resolver. metrics may be nil.
func NewResolver(cache Cache, repo RepositoryPort, logger *slog.Logger, metrics *observability.AuthzMetrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cache: cache, repo: repo, logger: logger, metrics: metrics}
}

// Rules returns the effective rule set for userID. It fails with
// ErrNoPrivilegesAssigned when the user is unknown or holds zero privileges;
// store failures propagate unchanged. Cache failures are logged and treated
// as misses so they can never mask the store's answer.
//
// A resolution that races a mutation may serve that one caller the
// pre-mutation rules, but its write-back is discarded when an invalidation
// landed between the store read and the write, so no durable stale entry
// survives a committed mutation.
func (r *Resolver) Rules(ctx context.Context, userID string) ([]authz.Permission, error) {
	rules, ok, err := r.cache.Get(ctx, userID)
	if err != nil {
		r.logger.Warn("privilege cache read failed", slog.String("user_id", userID), slog.Any("error", err))
	} else if ok {
		r.metrics.CacheHit()
		return rules, nil
	}
	r.metrics.CacheMiss()

	resultChan := r.group.DoChan(userID, func() (interface{}, error) {
		return r.fetch(context.WithoutCancel(ctx), userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]authz.Permission), nil
	}
}

// Ability resolves and compiles the user's ability in one step. A user with
// no privileges yields an empty, deny-all ability rather than an error.
func (r *Resolver) Ability(ctx context.Context, userID string) (*authz.Ability, error) {
	rules, err := r.Rules(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoPrivilegesAssigned) {
			return authz.Build(nil), nil
		}
		return nil, err
	}
	return authz.Build(rules), nil
}

func (r *Resolver) fetch(ctx context.Context, userID string) ([]authz.Permission, error) {
	// Witness the invalidation generation before touching the store. If it
	// has moved by the time the snapshot is written back, a mutation
	// committed in between and the written entry must not outlive it.
	token, genErr := r.cache.Generation(ctx, userID)
	if genErr != nil {
		r.logger.Warn("privilege cache generation read failed", slog.String("user_id", userID), slog.Any("error", genErr))
	}
	assigned, err := r.repo.FindUserPrivileges(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrNoPrivilegesAssigned
		}
		return nil, err
	}
	if len(assigned) == 0 {
		return nil, ErrNoPrivilegesAssigned
	}
	sets := make([][]authz.Permission, len(assigned))
	for i, privilege := range assigned {
		sets[i] = privilege.Permissions
	}
	rules := authz.Flatten(sets...)
	if genErr != nil {
		// Without a generation witness the snapshot cannot be proven
		// current, so it is served to the caller but not cached.
		return rules, nil
	}
	if err := r.cache.Put(ctx, userID, rules); err != nil {
		r.logger.Warn("privilege cache write failed", slog.String("user_id", userID), slog.Any("error", err))
		return rules, nil
	}
	if after, err := r.cache.Generation(ctx, userID); err != nil || after != token {
		if err := r.cache.Invalidate(ctx, userID); err != nil {
			r.logger.Warn("stale privilege cache entry could not be removed", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	return rules, nil
}
