package services

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"lobby-lab/auth"
	"lobby-lab/errors"
	"lobby-lab/repositories"
)

func newTestAuthService(t *testing.T) IAuthService {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuthService(repositories.NewUserRepository(db), 24*time.Hour)
}

func TestAuthService_Register(t *testing.T) {
	svc := newTestAuthService(t)

	t.Run("should register successfully when input is valid", func(t *testing.T) {
		req := require.New(t)

		token, err := svc.Register("test@example.com", "ComplexPass123!")

		req.NoError(err)
		req.NotEmpty(token)

		// And the token is a valid credential for joining
		claims, err := auth.ValidateToken(token.String())
		req.NoError(err)
		req.Equal([]string{"user"}, claims.Roles)
	})

	t.Run("should fail when password complexity is not met", func(t *testing.T) {
		req := require.New(t)

		token, err := svc.Register("weak@example.com", "simple")

		req.ErrorIs(err, errors.ErrInvalidPassword)
		req.Empty(token)
	})

	t.Run("should fail when user already exists", func(t *testing.T) {
		req := require.New(t)
		_, err := svc.Register("duplicate@example.com", "ComplexPass123!")
		req.NoError(err)

		token, err := svc.Register("duplicate@example.com", "OtherComplex456!")

		req.ErrorIs(err, errors.ErrUserAlreadyExists)
		req.Empty(token)
	})
}

func TestAuthService_Login(t *testing.T) {
	svc := newTestAuthService(t)
	req := require.New(t)
	_, err := svc.Register("alice@example.com", "ComplexPass123!")
	req.NoError(err)

	t.Run("should login with the registered password", func(t *testing.T) {
		req := require.New(t)

		token, err := svc.Login("alice@example.com", "ComplexPass123!")

		req.NoError(err)
		req.NotEmpty(token)
	})

	t.Run("should refuse a wrong password", func(t *testing.T) {
		req := require.New(t)

		token, err := svc.Login("alice@example.com", "WrongPass123!")

		req.ErrorIs(err, errors.ErrInvalidCredentials)
		req.Empty(token)
	})

	t.Run("should refuse an unknown account with the same generic error", func(t *testing.T) {
		req := require.New(t)

		_, err := svc.Login("ghost@example.com", "ComplexPass123!")

		// Same error for unknown email and bad password, no user enumeration
		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})
}
