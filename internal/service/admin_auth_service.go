package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"parkwatch/internal/repository"
)

// ErrInvalidCredentials is returned for any failed operator login.
var ErrInvalidCredentials = errors.New("invalid credentials")

type AdminAuthService interface {
	Login(username, password string) (string, error)
}

type adminAuthService struct {
	repo   repository.AdminAuthRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAdminAuthService(repo repository.AdminAuthRepository, secret []byte, ttl time.Duration) AdminAuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &adminAuthService{repo: repo, secret: secret, ttl: ttl, now: time.Now}
}

func (s *adminAuthService) Login(username, password string) (string, error) {
	admin, err := s.repo.GetByUsername(username)
	if err != nil {
		return "", err
	}
	if admin == nil {
		return "", ErrInvalidCredentials
	}

	if !checkPasswordHash(password, admin.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   admin.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
