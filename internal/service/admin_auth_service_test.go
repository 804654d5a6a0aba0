package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parkwatch/internal/repository"
)

func TestAdminLogin(t *testing.T) {
	hash, err := hashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	secret := []byte("0123456789abcdef0123456789abcdef")
	svc := NewAdminAuthService(repository.NewAdminAuthRepository("ops", hash), secret, 15*time.Minute)

	raw, err := svc.Login("ops", "s3cret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil }); err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 15*time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	for _, tc := range []struct{ user, pass string }{{"ops", "wrong"}, {"other", "s3cret"}} {
		if _, err := svc.Login(tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q, %q) err = %v", tc.user, tc.pass, err)
		}
	}

	disabled := NewAdminAuthService(repository.NewAdminAuthRepository("", ""), secret, 0)
	if _, err := disabled.Login("ops", "s3cret"); !errors.Is(err, repository.ErrNoAdmin) {
		t.Fatalf("err = %v, want ErrNoAdmin", err)
	}
}
