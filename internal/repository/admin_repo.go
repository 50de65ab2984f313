package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/domain"
)

// AdminRepository handles database operations for back-office accounts.
type AdminRepository struct {
	db *sqlx.DB
}

// NewAdminRepository creates a new AdminRepository.
func NewAdminRepository(db *sqlx.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create inserts a new admin account row.
func (r *AdminRepository) Create(ctx context.Context, a *domain.AdminUser) error {
	query := `
		INSERT INTO admin_users (id, username, password_hash, role, is_active, created_at, updated_at)
		VALUES (:id, :username, :password_hash, :role, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		if isUniqueViolation(err, "admin_users_username_key") {
			return domain.ErrInvalidCredentials
		}
		return fmt.Errorf("admin_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches an admin account by primary key.
func (r *AdminRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AdminUser, error) {
	var a domain.AdminUser
	err := r.db.GetContext(ctx, &a, `SELECT * FROM admin_users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("admin_repo.GetByID: %w", err)
	}
	return &a, nil
}

// GetByUsername fetches an admin account by username (used for login).
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*domain.AdminUser, error) {
	var a domain.AdminUser
	err := r.db.GetContext(ctx, &a, `SELECT * FROM admin_users WHERE username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("admin_repo.GetByUsername: %w", err)
	}
	return &a, nil
}

// TouchLogin stamps the account's last successful login.
func (r *AdminRepository) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE admin_users SET last_login_at = $1, updated_at = now() WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("admin_repo.TouchLogin: %w", err)
	}
	return nil
}

// isUniqueViolation checks whether err is a PostgreSQL unique constraint
// violation for the given constraint name.
func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unique constraint") && strings.Contains(msg, constraintName)
}
