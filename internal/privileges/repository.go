package privileges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formworks-app/formworks/internal/platform/db"
	"github.com/formworks-app/formworks/internal/shared"
)

// RepositoryPort defines the rule-store operations the engine consumes.
type RepositoryPort interface {
	// FindUserPrivileges returns the privileges assigned to a user, or
	// shared.ErrNotFound when the user row does not exist.
	FindUserPrivileges(ctx context.Context, userID string) ([]Privilege, error)
	// FindAll returns every privilege ordered by id.
	FindAll(ctx context.Context) ([]Privilege, error)
	// Create inserts a new privilege definition and returns its id.
	Create(ctx context.Context, input PrivilegeInput) (string, error)
	// Update rewrites an existing definition, or shared.ErrNotFound.
	Update(ctx context.Context, id string, input PrivilegeInput) (string, error)
	// UpdateUserAssignments connects and disconnects privileges on a user and
	// returns the updated assignment list, or shared.ErrNotFound when the
	// user vanished.
	UpdateUserAssignments(ctx context.Context, userID string, adds, removes []string) ([]Privilege, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const (
	privilegeColumns = `id, name_en, name_fr, description_en, description_fr, permissions, created_at, updated_at`

	userPrivilegesQuery = `SELECT p.id, p.name_en, p.name_fr, p.description_en, p.description_fr, p.permissions, p.created_at, p.updated_at
		FROM privileges p
		JOIN user_privileges up ON up.privilege_id = p.id
		WHERE up.user_id = $1
		ORDER BY p.id`
)

// FindUserPrivileges returns the privileges currently assigned to userID.
func (r *Repository) FindUserPrivileges(ctx context.Context, userID string) ([]Privilege, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, userPrivilegesQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrivileges(rows)
}

// FindAll returns every privilege definition.
func (r *Repository) FindAll(ctx context.Context) ([]Privilege, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+privilegeColumns+` FROM privileges ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrivileges(rows)
}

// Create inserts a new privilege definition.
func (r *Repository) Create(ctx context.Context, input PrivilegeInput) (string, error) {
	permissions, err := json.Marshal(input.Permissions)
	if err != nil {
		return "", fmt.Errorf("privileges: encode permissions: %w", err)
	}
	id := uuid.NewString()
	_, err = r.pool.Exec(ctx, `INSERT INTO privileges (id, name_en, name_fr, description_en, description_fr, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		id, input.NameEn, input.NameFr, input.DescriptionEn, input.DescriptionFr, permissions)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update rewrites the definition for id.
func (r *Repository) Update(ctx context.Context, id string, input PrivilegeInput) (string, error) {
	permissions, err := json.Marshal(input.Permissions)
	if err != nil {
		return "", fmt.Errorf("privileges: encode permissions: %w", err)
	}
	var updated string
	err = r.pool.QueryRow(ctx, `UPDATE privileges
		SET name_en = $2, name_fr = $3, description_en = $4, description_fr = $5, permissions = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING id`,
		id, input.NameEn, input.NameFr, input.DescriptionEn, input.DescriptionFr, permissions).Scan(&updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return updated, nil
}

// UpdateUserAssignments applies connect/disconnect changes inside one
// transaction and returns the user's updated privilege list.
func (r *Repository) UpdateUserAssignments(ctx context.Context, userID string, adds, removes []string) ([]Privilege, error) {
	var updated []Privilege
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var lockedID string
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&lockedID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		for _, privilegeID := range adds {
			if _, err := tx.Exec(ctx, `INSERT INTO user_privileges (user_id, privilege_id, created_at)
				VALUES ($1, $2, NOW())
				ON CONFLICT (user_id, privilege_id) DO NOTHING`, userID, privilegeID); err != nil {
				return err
			}
		}
		for _, privilegeID := range removes {
			if _, err := tx.Exec(ctx, `DELETE FROM user_privileges WHERE user_id = $1 AND privilege_id = $2`, userID, privilegeID); err != nil {
				return err
			}
		}
		rows, err := tx.Query(ctx, userPrivilegesQuery, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		updated, err = scanPrivileges(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanPrivileges(rows pgx.Rows) ([]Privilege, error) {
	var privileges []Privilege
	for rows.Next() {
		var (
			privilege Privilege
			payload   []byte
		)
		if err := rows.Scan(&privilege.ID, &privilege.NameEn, &privilege.NameFr,
			&privilege.DescriptionEn, &privilege.DescriptionFr, &payload,
			&privilege.CreatedAt, &privilege.UpdatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &privilege.Permissions); err != nil {
				return nil, fmt.Errorf("privileges: decode permissions for %s: %w", privilege.ID, err)
			}
		}
		privileges = append(privileges, privilege)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return privileges, nil
}

var _ RepositoryPort = (*Repository)(nil)
