package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
)

func newAuthService() (*AuthService, memUserRepo) {
	repo := memUserRepo{newMemStore()}
	return NewAuthService(repo, "test-secret", time.Hour), repo
}

func TestAuthService_Register(t *testing.T) {
	svc, _ := newAuthService()

	resp, err := svc.Register(context.Background(), dto.RegisterRequest{
		Email: "Test@Example.com", Password: "password123",
		FirstName: "John", LastName: "Doe", Contact: "+91 98200 00000",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "test@example.com", resp.User.Email)
	assert.Equal(t, model.RoleCustomer, resp.User.Role)
	assert.Equal(t, "+91 98200 00000", resp.User.Contact)

	token, err := jwt.Parse(resp.Token, func(*jwt.Token) (any, error) { return []byte("test-secret"), nil })
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, resp.User.ID.String(), claims["sub"])
	assert.Equal(t, model.RoleCustomer, claims["role"])
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	svc, repo := newAuthService()
	require.NoError(t, repo.Create(context.Background(), &model.User{Email: "test@example.com"}))

	_, err := svc.Register(context.Background(), dto.RegisterRequest{
		Email: "TEST@example.com", Password: "password123",
		FirstName: "John", LastName: "Doe",
	})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestAuthService_Login(t *testing.T) {
	svc, repo := newAuthService()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	require.NoError(t, repo.Create(context.Background(), &model.User{
		Email: "test@example.com", Password: string(hashed), Role: model.RoleCustomer,
	}))

	resp, err := svc.Login(context.Background(), dto.LoginRequest{
		Email: "test@example.com", Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc, repo := newAuthService()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	require.NoError(t, repo.Create(context.Background(), &model.User{
		Email: "test@example.com", Password: string(hashed),
	}))

	_, err := svc.Login(context.Background(), dto.LoginRequest{
		Email: "test@example.com", Password: "wrong",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), dto.LoginRequest{
		Email: "nobody@example.com", Password: "password123",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Profile(t *testing.T) {
	svc, _ := newAuthService()
	registered, err := svc.Register(context.Background(), dto.RegisterRequest{
		Email: "ada@example.com", Password: "password123",
		FirstName: "Ada", LastName: "Lovelace", Contact: "+44 20 7946 0000",
	})
	require.NoError(t, err)

	profile, err := svc.Profile(context.Background(), registered.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FirstName)
	assert.Equal(t, "Lovelace", profile.LastName)
	assert.Equal(t, "+44 20 7946 0000", profile.Contact)
	assert.Equal(t, "ada@example.com", profile.Email)

	_, err = svc.Profile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
