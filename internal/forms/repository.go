package forms

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formworks-app/formworks/internal/shared"
)

// RepositoryPort defines the form-record store operations.
type RepositoryPort interface {
	FindAll(ctx context.Context) ([]FormRecord, error)
	// FindByID returns the record or shared.ErrNotFound.
	FindByID(ctx context.Context, id string) (*FormRecord, error)
	Create(ctx context.Context, input FormInput) (string, error)
	// Update rewrites the record's writable fields, or shared.ErrNotFound.
	Update(ctx context.Context, id string, input FormInput) error
	// SetPublished toggles the published flag, or shared.ErrNotFound.
	SetPublished(ctx context.Context, id string, published bool) error
	// Delete removes the record, or shared.ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const formColumns = `id, name_en, name_fr, published, template, created_at, updated_at`

// FindAll returns every form record ordered by creation time.
func (r *Repository) FindAll(ctx context.Context) ([]FormRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+formColumns+` FROM form_records ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForms(rows)
}

// FindByID returns the record for id.
func (r *Repository) FindByID(ctx context.Context, id string) (*FormRecord, error) {
	var record FormRecord
	err := r.pool.QueryRow(ctx, `SELECT `+formColumns+` FROM form_records WHERE id = $1`, id).
		Scan(&record.ID, &record.NameEn, &record.NameFr, &record.Published,
			&record.Template, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Create inserts a new, unpublished form record.
func (r *Repository) Create(ctx context.Context, input FormInput) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `INSERT INTO form_records (id, name_en, name_fr, published, template, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, NOW(), NOW())`,
		id, input.NameEn, input.NameFr, input.Template)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update rewrites the writable fields for id.
func (r *Repository) Update(ctx context.Context, id string, input FormInput) error {
	tag, err := r.pool.Exec(ctx, `UPDATE form_records
		SET name_en = $2, name_fr = $3, template = $4, updated_at = NOW()
		WHERE id = $1`,
		id, input.NameEn, input.NameFr, input.Template)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetPublished toggles the published flag for id.
func (r *Repository) SetPublished(ctx context.Context, id string, published bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE form_records SET published = $2, updated_at = NOW() WHERE id = $1`, id, published)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the record for id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanForms(rows pgx.Rows) ([]FormRecord, error) {
	var records []FormRecord
	for rows.Next() {
		var record FormRecord
		if err := rows.Scan(&record.ID, &record.NameEn, &record.NameFr, &record.Published,
			&record.Template, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

var _ RepositoryPort = (*Repository)(nil)
