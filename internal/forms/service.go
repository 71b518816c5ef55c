package forms

import (
	"context"
	"errors"
	"log/slog"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/shared"
)

// Service gates form-record operations behind the caller's ability.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.AuthzMetrics
}

// NewService constructs a Service. Metrics may be nil.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics *observability.AuthzMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, metrics: metrics}
}

// List returns every form record. Requires view:FormRecord. Store failures
// degrade to an empty list; denials always surface.
func (s *Service) List(ctx context.Context, ability *authz.Ability) ([]FormRecord, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionView, Subject: authz.SubjectFormRecord}); err != nil {
		return nil, err
	}
	records, err := s.repo.FindAll(ctx)
	if err != nil {
		s.logger.Error("list forms", slog.Any("error", err))
		return []FormRecord{}, nil
	}
	return records, nil
}

// Get returns a single form record. Requires view:FormRecord.
func (s *Service) Get(ctx context.Context, ability *authz.Ability, id string) (*FormRecord, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionView, Subject: authz.SubjectFormRecord}); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// Create inserts a new form record. Requires create:FormRecord.
func (s *Service) Create(ctx context.Context, ability *authz.Ability, input FormInput) (*FormRecord, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionCreate, Subject: authz.SubjectFormRecord}); err != nil {
		return nil, err
	}
	id, err := s.repo.Create(ctx, input)
	if err != nil {
		s.logger.Error("create form", slog.Any("error", err))
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// Update rewrites a form record. Requires update:FormRecord. A record deleted
// concurrently yields (nil, nil).
func (s *Service) Update(ctx context.Context, ability *authz.Ability, id string, input FormInput) (*FormRecord, error) {
	if err := s.check(ability, authz.Check{Action: authz.ActionUpdate, Subject: authz.SubjectFormRecord}); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, input); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("form vanished before update", slog.String("form_id", id))
			return nil, nil
		}
		s.logger.Error("update form", slog.String("form_id", id), slog.Any("error", err))
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// SetPublished flips the published flag. Either update:FormRecord or
// manage:FormRecord is enough.
func (s *Service) SetPublished(ctx context.Context, ability *authz.Ability, id string, published bool) error {
	checks := []authz.Check{
		{Action: authz.ActionUpdate, Subject: authz.SubjectFormRecord},
		{Action: authz.ActionManage, Subject: authz.SubjectFormRecord},
	}
	if err := authz.CheckAccess(ability, checks, authz.MatchAny); err != nil {
		s.metrics.AccessDenied(string(authz.SubjectFormRecord))
		return err
	}
	return s.repo.SetPublished(ctx, id, published)
}

// Delete removes a form record. Requires delete:FormRecord.
func (s *Service) Delete(ctx context.Context, ability *authz.Ability, id string) error {
	if err := s.check(ability, authz.Check{Action: authz.ActionDelete, Subject: authz.SubjectFormRecord}); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		s.logger.Error("delete form", slog.String("form_id", id), slog.Any("error", err))
		return err
	}
	return nil
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
