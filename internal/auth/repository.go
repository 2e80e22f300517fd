package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Create inserts a new operator.
func (r *Repository) Create(ctx context.Context, op *Operator, passwordHash string) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO operators (id, email, password_hash, display_name, role, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, op.ID, op.Email, passwordHash, op.DisplayName, op.Role, op.CreatorID).Scan(&op.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

// GetByEmail returns the operator and password hash for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Operator, string, error) {
	var op Operator
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, creator_id, created_at, password_hash
		FROM operators WHERE email = $1
	`, email)
	if err := row.Scan(&op.ID, &op.Email, &op.DisplayName, &op.Role, &op.CreatorID, &op.CreatedAt, &passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &op, passwordHash, nil
}
