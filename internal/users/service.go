package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/privileges"
	"github.com/formworks-app/formworks/internal/shared"
)

// Service handles user account business logic.
type Service struct {
	repo      RepositoryPort
	cache     privileges.Cache
	accessLog *shared.AccessLogger
	logger    *slog.Logger
	metrics   *observability.AuthzMetrics
}

// NewService builds a Service instance. accessLog and metrics may be nil.
func NewService(repo RepositoryPort, cache privileges.Cache, accessLog *shared.AccessLogger, logger *slog.Logger, metrics *observability.AuthzMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, accessLog: accessLog, logger: logger, metrics: metrics}
}

// List returns all users with their privileges. Requires view:User. Store
// failures degrade to an empty list so account listings stay up.
func (s *Service) List(ctx context.Context, ability *authz.Ability) ([]User, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionView, Subject: authz.SubjectUser}); err != nil {
		return nil, err
	}
	list, err := s.repo.ListUsers(ctx)
	if err != nil {
		s.logger.Error("list users", slog.Any("error", err))
		return []User{}, nil
	}
	return list, nil
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

// GetOrCreate returns the account for email, creating it on first sign-in.
// Accounts with zero privileges get the base privilege attached, so a new
// user is never entirely without rules. The attachment bypasses the mutation
// pipeline deliberately: it is self-provisioning, not an administrative act.
func (s *Service) GetOrCreate(ctx context.Context, email, name string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if user == nil {
		user, err = s.repo.CreateUser(ctx, name, email)
		if err != nil {
			return nil, err
		}
	}

	if err := s.EnsureBaseline(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureBaseline attaches the base privilege to a user holding zero
// privileges. No-op for users that already have any.
func (s *Service) EnsureBaseline(ctx context.Context, userID string) error {
	count, err := s.repo.CountPrivileges(ctx, userID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if err := s.repo.AttachPrivilegeByName(ctx, userID, BasePrivilegeName); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("users: base privilege is not provisioned")
		}
		return err
	}
	// The user's effective rule set changed; drop any cached entry.
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("invalidate privilege cache", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	return nil
}

// LastLogin returns the time of the user's most recent login, or nil when
// the user has never logged in.
func (s *Service) LastLogin(ctx context.Context, userID string) (*time.Time, error) {
	if s.accessLog == nil {
		return nil, nil
	}
	entry, err := s.accessLog.LastAction(ctx, userID, shared.LogActionLogin)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	at := entry.At
	return &at, nil
}
