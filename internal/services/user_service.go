package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/MreRes/financial-bot/internal/models"
)

// UserStore is the account-side storage contract.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, role models.Role, maxHandles int) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	AddHandle(ctx context.Context, userID, handle string) error
	DeactivateHandle(ctx context.Context, userID, handle string) error
}

const defaultMaxHandles = 1

// UserService provisions accounts and verifies credentials.
type UserService struct {
	users      UserStore
	maxHandles int
	log        zerolog.Logger
}

// NewUserService wires the account service. maxHandles is the handle quota
// granted to new accounts when the caller does not set one; values <= 0 fall
// back to the single-handle default.
func NewUserService(users UserStore, maxHandles int, log zerolog.Logger) *UserService {
	if maxHandles <= 0 {
		maxHandles = defaultMaxHandles
	}
	return &UserService{users: users, maxHandles: maxHandles, log: log}
}

// Register creates an account with a bcrypt password hash. maxHandles <= 0
// falls back to the configured quota.
func (s *UserService) Register(ctx context.Context, username, password string, role models.Role, maxHandles int) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrValidation)
	}
	if role == "" {
		role = models.RoleUser
	}
	if maxHandles <= 0 {
		maxHandles = s.maxHandles
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, string(hash), role, maxHandles)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", user.ID).Str("username", username).Msg("user registered")
	return user, nil
}

// Authenticate verifies the password and returns the account. A wrong
// password reports the same ErrNotFound as an unknown username.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", models.ErrNotFound)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// RegisterHandle adds a chat handle under the user's quota. Session pairing
// does this implicitly; the explicit path exists for pre-provisioning.
func (s *UserService) RegisterHandle(ctx context.Context, userID, handle string) error {
	if err := models.ValidateHandle(handle); err != nil {
		return err
	}
	return s.users.AddHandle(ctx, userID, handle)
}

func (s *UserService) DeactivateHandle(ctx context.Context, userID, handle string) error {
	return s.users.DeactivateHandle(ctx, userID, handle)
}
