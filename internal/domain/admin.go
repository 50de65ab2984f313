package domain

import (
	"time"

	"github.com/google/uuid"
)

// AdminRole scopes what a back-office operator may do.
type AdminRole string

const (
	RoleOperator AdminRole = "operator" // read-only plus event retries
	RoleAdmin    AdminRole = "admin"    // full market lifecycle control
)

// AdminUser is a back-office operator account. The public API has no user
// accounts; wallets identify themselves by address only.
type AdminUser struct {
	ID           uuid.UUID  `json:"id"            db:"id"`
	Username     string     `json:"username"      db:"username"`
	PasswordHash string     `json:"-"             db:"password_hash"`
	Role         AdminRole  `json:"role"          db:"role"`
	IsActive     bool       `json:"is_active"     db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"    db:"updated_at"`
}
