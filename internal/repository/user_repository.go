package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/MreRes/financial-bot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, username, passwordHash string, role models.Role, maxHandles int) (*models.User, error) {
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		MaxHandles:   maxHandles,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, max_handles)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		user.ID, username, passwordHash, role, maxHandles,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("%w: username %q taken", models.ErrValidation, username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, max_handles, created_at, updated_at
		 FROM users WHERE id = $1`, userID,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.MaxHandles, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Handles, err = r.getHandles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, max_handles, created_at, updated_at
		 FROM users WHERE username = $1`, username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.MaxHandles, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %q", models.ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Handles, err = r.getHandles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) getHandles(ctx context.Context, userID string) ([]models.ChatHandle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT handle, active, last_active FROM user_handles WHERE user_id = $1 ORDER BY last_active DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handles: %w", err)
	}
	defer rows.Close()

	var handles []models.ChatHandle
	for rows.Next() {
		var h models.ChatHandle
		if err := rows.Scan(&h.Handle, &h.Active, &h.LastActive); err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

// HandleOwner returns the id of the user a handle is registered to, or
// ErrNotFound.
func (r *UserRepository) HandleOwner(ctx context.Context, handle string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_handles WHERE handle = $1`, handle,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: handle %s", models.ErrNotFound, handle)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up handle: %w", err)
	}
	return userID, nil
}

// AddHandle registers a handle for the user. The quota check and the insert
// run in one transaction so concurrent registrations cannot overshoot the
// quota.
func (r *UserRepository) AddHandle(ctx context.Context, userID, handle string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var count, max int
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM user_handles WHERE user_id = $1), max_handles
		 FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&count, &max)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to check quota: %w", err)
	}
	if count >= max {
		return models.ErrQuotaExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_handles (user_id, handle) VALUES ($1, $2)`, userID, handle)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return models.ErrDuplicateHandle
		}
		return fmt.Errorf("failed to add handle: %w", err)
	}

	return tx.Commit()
}

func (r *UserRepository) TouchHandle(ctx context.Context, userID, handle string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_handles SET last_active = $3 WHERE user_id = $1 AND handle = $2`,
		userID, handle, at)
	return err
}

func (r *UserRepository) DeactivateHandle(ctx context.Context, userID, handle string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_handles SET active = FALSE WHERE user_id = $1 AND handle = $2`,
		userID, handle)
	if err != nil {
		return fmt.Errorf("failed to deactivate handle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: handle %s", models.ErrNotFound, handle)
	}
	return nil
}
