package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formworks-app/formworks/internal/privileges"
	"github.com/formworks-app/formworks/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	// ListUsers returns every user with their assigned privileges.
	ListUsers(ctx context.Context) ([]User, error)
	// FindByEmail returns shared.ErrNotFound when no account matches.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// CreateUser inserts a new active account.
	CreateUser(ctx context.Context, name, email string) (*User, error)
	// CountPrivileges returns the number of privileges assigned to a user.
	CountPrivileges(ctx context.Context, userID string) (int, error)
	// AttachPrivilegeByName connects the named privilege to a user, or
	// shared.ErrNotFound when no privilege carries that English name.
	AttachPrivilegeByName(ctx context.Context, userID, nameEn string) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns all users with their privileges attached.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.id, u.name, u.email, u.is_active, u.created_at, u.updated_at,
			p.id, p.name_en, p.name_fr, p.description_en, p.description_fr, p.permissions
		FROM users u
		LEFT JOIN user_privileges up ON up.user_id = u.id
		LEFT JOIN privileges p ON p.id = up.privilege_id
		ORDER BY u.id, p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		users   []User
		current *User
	)
	for rows.Next() {
		var (
			user       User
			privID     *string
			nameEn     *string
			nameFr     *string
			descEn     *string
			descFr     *string
			permission []byte
		)
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
			&privID, &nameEn, &nameFr, &descEn, &descFr, &permission); err != nil {
			return nil, err
		}
		if current == nil || current.ID != user.ID {
			users = append(users, user)
			current = &users[len(users)-1]
		}
		if privID == nil {
			continue
		}
		privilege := privileges.Privilege{ID: *privID, NameEn: deref(nameEn), NameFr: deref(nameFr), DescriptionEn: deref(descEn), DescriptionFr: deref(descFr)}
		if len(permission) > 0 {
			if err := json.Unmarshal(permission, &privilege.Permissions); err != nil {
				return nil, fmt.Errorf("users: decode permissions for %s: %w", privilege.ID, err)
			}
		}
		current.Privileges = append(current.Privileges, privilege)
	}
	return users, rows.Err()
}

// FindByEmail fetches a user account by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, is_active, created_at, updated_at FROM users WHERE email = $1`, email).
		Scan(&user.ID, &user.Name, &user.Email, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new active account.
func (r *Repository) CreateUser(ctx context.Context, name, email string) (*User, error) {
	user := User{ID: uuid.NewString(), Name: name, Email: email, IsActive: true}
	err := r.pool.QueryRow(ctx, `INSERT INTO users (id, name, email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING created_at, updated_at`, user.ID, name, email).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CountPrivileges returns how many privileges the user holds.
func (r *Repository) CountPrivileges(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_privileges WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// AttachPrivilegeByName connects the privilege with the given English name.
func (r *Repository) AttachPrivilegeByName(ctx context.Context, userID, nameEn string) error {
	var privilegeID string
	err := r.pool.QueryRow(ctx, `SELECT id FROM privileges WHERE name_en = $1`, nameEn).Scan(&privilegeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO user_privileges (user_id, privilege_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, privilege_id) DO NOTHING`, userID, privilegeID)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ RepositoryPort = (*Repository)(nil)
