package privileges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/shared"
)

// Notifier is told about assignment changes so affected users can be
// informed out of band. Implementations must be best effort; the pipeline
// never fails because a notification could not be enqueued.
type Notifier interface {
	PrivilegesChanged(ctx context.Context, userID string)
}

// ServiceConfig collects the service dependencies.
type ServiceConfig struct {
	Repo      RepositoryPort
	Cache     Cache
	Resolver  *Resolver
	Logger    *slog.Logger
	Metrics   *observability.AuthzMetrics
	AccessLog *shared.AccessLogger
	Notifier  Notifier
}

// Service orchestrates privilege reads and the mutation pipeline. Every
// mutation that can change an ability invalidates the cache only after the
// store write has committed, so a re-resolving reader always sees the
// post-mutation state.
type Service struct {
	repo      RepositoryPort
	cache     Cache
	resolver  *Resolver
	logger    *slog.Logger
	metrics   *observability.AuthzMetrics
	accessLog *shared.AccessLogger
	notifier  Notifier
}

// NewService constructs a Service. Metrics, AccessLog and Notifier are
// optional.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      cfg.Repo,
		cache:     cfg.Cache,
		resolver:  cfg.Resolver,
		logger:    logger,
		metrics:   cfg.Metrics,
		accessLog: cfg.AccessLog,
		notifier:  cfg.Notifier,
	}
}

// RulesForUser returns the user's effective rule set. Users with no
// privileges, vanished users, and store failures all degrade to an empty
// rule set: downstream checks then deny everything, which is the safe
// outcome for a read path.
func (s *Service) RulesForUser(ctx context.Context, userID string) []authz.Permission {
	rules, err := s.resolver.Rules(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNoPrivilegesAssigned) {
			s.logger.Error("resolve privilege rules", slog.String("user_id", userID), slog.Any("error", err))
		}
		return []authz.Permission{}
	}
	return rules
}

// List returns every privilege definition. Requires view:Privilege. Store
// failures degrade to an empty list so listing UIs stay up; the denial path
// always surfaces.
func (s *Service) List(ctx context.Context, ability *authz.Ability) ([]Privilege, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionView, Subject: authz.SubjectPrivilege}); err != nil {
		return nil, err
	}
	list, err := s.repo.FindAll(ctx)
	if err != nil {
		s.logger.Error("list privileges", slog.Any("error", err))
		return []Privilege{}, nil
	}
	return list, nil
}

// SetUserAssignments connects and disconnects privileges on a user, then
// invalidates that user's cache entry. Requires manage:User. A user deleted
// concurrently yields (nil, nil) rather than an error.
func (s *Service) SetUserAssignments(ctx context.Context, ability *authz.Ability, userID string, changes []AssignmentChange) ([]Privilege, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionManage, Subject: authz.SubjectUser}); err != nil {
		return nil, err
	}

	var adds, removes []string
	for _, change := range changes {
		if change.Op == ChangeAdd {
			adds = append(adds, change.PrivilegeID)
		} else {
			removes = append(removes, change.PrivilegeID)
		}
	}

	updated, err := s.repo.UpdateUserAssignments(ctx, userID, adds, removes)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("assignment target vanished", slog.String("user_id", userID))
			return nil, nil
		}
		s.logger.Error("update user assignments", slog.String("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	// The write is durable; the stale entry may not outlive this call.
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Error("invalidate privilege cache", slog.String("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("privileges: invalidate after assignment change: %w", err)
	}
	s.metrics.CacheInvalidation()

	s.record(ctx, shared.LogActionPrivilegeChanged, map[string]any{
		"target_user": userID,
		"added":       len(adds),
		"removed":     len(removes),
	})
	if s.notifier != nil {
		s.notifier.PrivilegesChanged(ctx, userID)
	}
	return updated, nil
}

// Define creates a new privilege definition and flushes the whole cache.
// Requires manage:Privilege.
func (s *Service) Define(ctx context.Context, ability *authz.Ability, input PrivilegeInput) (*PrivilegeRef, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionManage, Subject: authz.SubjectPrivilege}); err != nil {
		return nil, err
	}
	id, err := s.repo.Create(ctx, input)
	if err != nil {
		s.logger.Error("create privilege", slog.Any("error", err))
		return nil, err
	}
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	s.record(ctx, shared.LogActionPrivilegeDefined, map[string]any{"privilege_id": id, "name_en": input.NameEn})
	return &PrivilegeRef{ID: id}, nil
}

// Redefine rewrites an existing privilege definition and flushes the whole
// cache, because any number of users may hold the privilege. Requires
// manage:Privilege. A definition deleted concurrently yields (nil, nil).
func (s *Service) Redefine(ctx context.Context, ability *authz.Ability, id string, input PrivilegeInput) (*PrivilegeRef, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionManage, Subject: authz.SubjectPrivilege}); err != nil {
		return nil, err
	}
	updated, err := s.repo.Update(ctx, id, input)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("privilege vanished before update", slog.String("privilege_id", id))
			return nil, nil
		}
		s.logger.Error("update privilege", slog.String("privilege_id", id), slog.Any("error", err))
		return nil, err
	}
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	s.record(ctx, shared.LogActionPrivilegeDefined, map[string]any{"privilege_id": updated, "name_en": input.NameEn})
	return &PrivilegeRef{ID: updated}, nil
}

func (s *Service) check(ability *authz.Ability, checks ...authz.Check) error {
	if err := authz.MustAll(ability, checks...); err != nil {
		for _, c := range checks {
			if !ability.Can(c.Action, c.Subject) {
				s.metrics.AccessDenied(string(c.Subject))
			}
		}
		return err
	}
	return nil
}

// flush empties the cache after a privilege-definition change. The blast
// radius of affected users is unknown, so the whole cache goes.
func (s *Service) flush(ctx context.Context) error {
	if err := s.cache.FlushAll(ctx); err != nil {
		s.logger.Error("flush privilege cache", slog.Any("error", err))
		return fmt.Errorf("privileges: flush after definition change: %w", err)
	}
	s.metrics.CacheFlush()
	return nil
}

func (s *Service) record(ctx context.Context, action string, meta map[string]any) {
	if s.accessLog == nil {
		return
	}
	actor := ""
	if sess := shared.SessionFromContext(ctx); sess != nil {
		actor = sess.User()
	}
	if actor == "" {
		return
	}
	if err := s.accessLog.Record(ctx, shared.AccessLog{UserID: actor, Action: action, Meta: meta}); err != nil {
		s.logger.Warn("record access log", slog.String("action", action), slog.Any("error", err))
	}
}
