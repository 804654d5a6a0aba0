package repository

import (
	"crypto/subtle"
	"errors"
)

// Admin is an operator account.
type Admin struct {
	Username     string
	PasswordHash string
}

type AdminAuthRepository interface {
	GetByUsername(username string) (*Admin, error)
}

// ErrNoAdmin is returned when no operator account is configured.
var ErrNoAdmin = errors.New("no operator account configured")

type adminAuthRepository struct {
	admin *Admin
}

// NewAdminAuthRepository serves the single operator account from
// configuration. An empty username disables operator login.
func NewAdminAuthRepository(username, passwordHash string) AdminAuthRepository {
	if username == "" || passwordHash == "" {
		return &adminAuthRepository{}
	}
	return &adminAuthRepository{admin: &Admin{Username: username, PasswordHash: passwordHash}}
}

// GetByUsername returns nil, nil for an unknown username.
func (r *adminAuthRepository) GetByUsername(username string) (*Admin, error) {
	if r.admin == nil {
		return nil, ErrNoAdmin
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(r.admin.Username)) != 1 {
		return nil, nil
	}
	admin := *r.admin
	return &admin, nil
}
