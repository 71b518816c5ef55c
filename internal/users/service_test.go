package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/observability"
	"github.com/formworks-app/formworks/internal/privileges"
	"github.com/formworks-app/formworks/internal/shared"
)

type stubRepo struct {
	users         map[string]*User
	counts        map[string]int
	attached      []string
	listErr       error
	basePresent   bool
	createdEmails []string
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[string]*User), counts: make(map[string]int), basePresent: true}
}

func (s *stubRepo) ListUsers(ctx context.Context) ([]User, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []User
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, nil
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) CreateUser(ctx context.Context, name, email string) (*User, error) {
	user := &User{ID: "user-" + email, Name: name, Email: email, IsActive: true}
	s.users[user.ID] = user
	s.createdEmails = append(s.createdEmails, email)
	return user, nil
}

func (s *stubRepo) CountPrivileges(ctx context.Context, userID string) (int, error) {
	return s.counts[userID], nil
}

func (s *stubRepo) AttachPrivilegeByName(ctx context.Context, userID, nameEn string) error {
	if !s.basePresent {
		return shared.ErrNotFound
	}
	s.attached = append(s.attached, userID+":"+nameEn)
	s.counts[userID]++
	return nil
}

func viewerAbility() *authz.Ability {
	return authz.Build([]authz.Permission{
		{Action: authz.Actions{authz.ActionView}, Subject: authz.Subjects{authz.SubjectUser}},
	})
}

func TestListRequiresViewUser(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.List(context.Background(), authz.Build(nil))
	require.True(t, authz.IsAccessDenied(err))

	repo.users["u1"] = &User{ID: "u1", Email: "a@b.c"}
	list, err := svc.List(context.Background(), viewerAbility())
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestListDenialIncrementsDenialCounter(t *testing.T) {
	metrics := observability.NewMetrics()
	svc := NewService(newStubRepo(), nil, nil, nil, observability.NewAuthzMetrics(metrics.Registerer()))

	_, err := svc.List(context.Background(), authz.Build(nil))
	require.True(t, authz.IsAccessDenied(err))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rr.Body.String(), `formworks_access_denials_total{subject="User"} 1`)
}

func TestListDegradesOnStoreFailure(t *testing.T) {
	repo := newStubRepo()
	repo.listErr = errors.New("connection refused")
	svc := NewService(repo, nil, nil, nil, nil)

	list, err := svc.List(context.Background(), viewerAbility())
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestGetOrCreateCreatesFirstTimeUser(t *testing.T) {
	repo := newStubRepo()
	cache := privileges.NewMemoryCache(16, 0)
	svc := NewService(repo, cache, nil, nil, nil)

	user, err := svc.GetOrCreate(context.Background(), "new@example.com", "New User")
	require.NoError(t, err)
	require.Equal(t, []string{"new@example.com"}, repo.createdEmails)
	require.Contains(t, repo.attached, user.ID+":"+BasePrivilegeName)
}

func TestGetOrCreateAttachesBaseToPrivilegelessUser(t *testing.T) {
	repo := newStubRepo()
	repo.users["u1"] = &User{ID: "u1", Email: "old@example.com"}
	cache := privileges.NewMemoryCache(16, 0)
	require.NoError(t, cache.Put(context.Background(), "u1", nil))
	svc := NewService(repo, cache, nil, nil, nil)

	_, err := svc.GetOrCreate(context.Background(), "old@example.com", "Old User")
	require.NoError(t, err)
	require.Contains(t, repo.attached, "u1:"+BasePrivilegeName)
	require.Empty(t, repo.createdEmails)

	_, ok, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, ok, "cached rules must be dropped after base attach")
}

func TestGetOrCreateSkipsUsersWithPrivileges(t *testing.T) {
	repo := newStubRepo()
	repo.users["u1"] = &User{ID: "u1", Email: "admin@example.com"}
	repo.counts["u1"] = 2
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.GetOrCreate(context.Background(), "admin@example.com", "Admin")
	require.NoError(t, err)
	require.Empty(t, repo.attached)
}

func TestGetOrCreateFailsWithoutBasePrivilege(t *testing.T) {
	repo := newStubRepo()
	repo.basePresent = false
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.GetOrCreate(context.Background(), "new@example.com", "New User")
	require.Error(t, err)
	require.Contains(t, err.Error(), "base privilege")
}
