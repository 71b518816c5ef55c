package privileges

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/shared"
)

type stubRepo struct {
	mu sync.Mutex

	byUser map[string][]Privilege
	all    []Privilege

	findUserCalls   atomic.Int64
	findUserDelay   time.Duration
	findUserStall   func()
	findUserErr     error
	findAllErr      error
	createErr       error
	updateErr       error
	assignErr       error
	lastAdds        []string
	lastRemoves     []string
	createdInputs   []PrivilegeInput
	updatedInputs   map[string]PrivilegeInput
	assignmentCalls int
}

func newStubRepo() *stubRepo {
	return &stubRepo{byUser: make(map[string][]Privilege), updatedInputs: make(map[string]PrivilegeInput)}
}

func (s *stubRepo) FindUserPrivileges(ctx context.Context, userID string) ([]Privilege, error) {
	s.findUserCalls.Add(1)
	if s.findUserDelay > 0 {
		time.Sleep(s.findUserDelay)
	}
	if s.findUserErr != nil {
		return nil, s.findUserErr
	}
	s.mu.Lock()
	assigned, ok := s.byUser[userID]
	out := make([]Privilege, len(assigned))
	copy(out, assigned)
	s.mu.Unlock()
	if !ok {
		return nil, shared.ErrNotFound
	}
	// Runs after the snapshot is taken and outside the lock, so a test can
	// park a fetch here while mutating the store.
	if s.findUserStall != nil {
		s.findUserStall()
	}
	return out, nil
}

func (s *stubRepo) FindAll(ctx context.Context) ([]Privilege, error) {
	if s.findAllErr != nil {
		return nil, s.findAllErr
	}
	return s.all, nil
}

func (s *stubRepo) Create(ctx context.Context, input PrivilegeInput) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdInputs = append(s.createdInputs, input)
	return "priv-new", nil
}

func (s *stubRepo) Update(ctx context.Context, id string, input PrivilegeInput) (string, error) {
	if s.updateErr != nil {
		return "", s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedInputs[id] = input
	return id, nil
}

func (s *stubRepo) UpdateUserAssignments(ctx context.Context, userID string, adds, removes []string) ([]Privilege, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignmentCalls++
	if s.assignErr != nil {
		return nil, s.assignErr
	}
	s.lastAdds, s.lastRemoves = adds, removes
	assigned, ok := s.byUser[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	for _, id := range adds {
		assigned = append(assigned, Privilege{ID: id, Permissions: sampleRules()})
	}
	filtered := assigned[:0]
	for _, p := range assigned {
		removed := false
		for _, id := range removes {
			if p.ID == id {
				removed = true
				break
			}
		}
		if !removed {
			filtered = append(filtered, p)
		}
	}
	s.byUser[userID] = filtered
	return filtered, nil
}

func viewPrivilege(id string, rules ...authz.Permission) Privilege {
	if len(rules) == 0 {
		rules = sampleRules()
	}
	return Privilege{ID: id, NameEn: id, NameFr: id, Permissions: rules}
}

func TestResolverCachesAfterFirstResolution(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["u1"] = []Privilege{viewPrivilege("base")}
	resolver := NewResolver(NewMemoryCache(16, 0), repo, nil, nil)
	ctx := context.Background()

	first, err := resolver.Rules(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), repo.findUserCalls.Load())

	second, err := resolver.Rules(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int64(1), repo.findUserCalls.Load(), "second resolve must be served from cache")
}

func TestResolverRefetchesAfterInvalidation(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["u1"] = []Privilege{viewPrivilege("base")}
	cache := NewMemoryCache(16, 0)
	resolver := NewResolver(cache, repo, nil, nil)
	ctx := context.Background()

	_, err := resolver.Rules(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "u1"))

	_, err = resolver.Rules(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), repo.findUserCalls.Load(), "invalidation must force exactly one refetch")
}

func TestResolverDiscardsSnapshotOvertakenByInvalidation(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["u1"] = []Privilege{viewPrivilege("base")}
	cache := NewMemoryCache(16, 0)
	resolver := NewResolver(cache, repo, nil, nil)
	svc := NewService(ServiceConfig{Repo: repo, Cache: cache, Resolver: resolver})
	ctx := context.Background()

	snapshotTaken := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	repo.findUserStall = func() {
		once.Do(func() {
			close(snapshotTaken)
			<-release
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = resolver.Rules(ctx, "u1")
	}()

	// The in-flight resolution holds a pre-mutation snapshot while the
	// assignment change commits and invalidates u1.
	<-snapshotTaken
	_, err := svc.SetUserAssignments(ctx, adminAbility(), "u1", []AssignmentChange{
		{PrivilegeID: "admin", Op: ChangeAdd},
	})
	require.NoError(t, err)
	close(release)
	<-done

	// The overtaken write-back must not have outlived the invalidation: the
	// next resolve goes back to the store and sees both privileges.
	rules, err := resolver.Rules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 4)
	require.Equal(t, int64(2), repo.findUserCalls.Load(), "pre-mutation snapshot must not be served from cache")
}

func TestResolverFlattensAllAssignedPrivileges(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["u1"] = []Privilege{
		viewPrivilege("base", authz.Permission{Action: authz.Actions{authz.ActionView}, Subject: authz.Subjects{authz.SubjectFormRecord}}),
		viewPrivilege("admin", authz.Permission{Action: authz.Actions{authz.ActionManage}, Subject: authz.Subjects{authz.SubjectUser}}),
	}
	resolver := NewResolver(NewMemoryCache(16, 0), repo, nil, nil)

	rules, err := resolver.Rules(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	ability := authz.Build(rules)
	require.True(t, ability.Can(authz.ActionView, authz.SubjectFormRecord))
	require.True(t, ability.Can(authz.ActionManage, authz.SubjectUser))
}

func TestResolverNoPrivilegesAssigned(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["empty"] = nil
	resolver := NewResolver(NewMemoryCache(16, 0), repo, nil, nil)
	ctx := context.Background()

	_, err := resolver.Rules(ctx, "empty")
	require.ErrorIs(t, err, ErrNoPrivilegesAssigned, "zero assigned privileges")

	_, err = resolver.Rules(ctx, "ghost")
	require.ErrorIs(t, err, ErrNoPrivilegesAssigned, "unknown user")
}

func TestResolverStoreFailurePropagates(t *testing.T) {
	repo := newStubRepo()
	storeDown := errors.New("connection refused")
	repo.findUserErr = storeDown
	resolver := NewResolver(NewMemoryCache(16, 0), repo, nil, nil)

	_, err := resolver.Rules(context.Background(), "u1")
	require.ErrorIs(t, err, storeDown, "store failures must propagate unchanged")
}

func TestResolverCacheFailureFallsThroughToStore(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["u1"] = []Privilege{viewPrivilege("base")}
	resolver := NewResolver(failingCache{}, repo, nil, nil)

	rules, err := resolver.Rules(context.Background(), "u1")
	require.NoError(t, err, "cache failure must not mask the store result")
	require.NotEmpty(t, rules)
	require.Equal(t, int64(1), repo.findUserCalls.Load())
}

func TestResolverCollapsesConcurrentMisses(t *testing.T) {
	repo := newStubRepo()
	repo.byUser["u1"] = []Privilege{viewPrivilege("base")}
	repo.findUserDelay = 20 * time.Millisecond
	resolver := NewResolver(NewMemoryCache(16, 0), repo, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Rules(context.Background(), "u1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// Stragglers scheduled after the shared flight completes may trigger one
	// more fetch; anything close to the goroutine count means no collapsing.
	require.LessOrEqual(t, repo.findUserCalls.Load(), int64(2), "concurrent misses for one user should share a fetch")
}

func TestResolverAbilityTreatsMissingPrivilegesAsDenyAll(t *testing.T) {
	repo := newStubRepo()
	resolver := NewResolver(NewMemoryCache(16, 0), repo, nil, nil)

	ability, err := resolver.Ability(context.Background(), "ghost")
	require.NoError(t, err)
	require.False(t, ability.Can(authz.ActionView, authz.SubjectUser))
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, userID string) ([]authz.Permission, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Put(ctx context.Context, userID string, rules []authz.Permission) error {
	return errors.New("cache down")
}

func (failingCache) Invalidate(ctx context.Context, userID string) error {
	return errors.New("cache down")
}

func (failingCache) FlushAll(ctx context.Context) error {
	return errors.New("cache down")
}

func (failingCache) Generation(ctx context.Context, userID string) (string, error) {
	return "", errors.New("cache down")
}
