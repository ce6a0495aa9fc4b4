package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/MreRes/financial-bot/internal/models"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, handle, status, pairing_code, last_active, settings, nlp, created_at, updated_at`

func (r *SessionRepository) scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	s := &models.Session{}
	var settings, nlpSettings []byte
	err := row.Scan(&s.ID, &s.UserID, &s.Handle, &s.Status, &s.PairingCode,
		&s.LastActive, &settings, &nlpSettings, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode session settings: %w", err)
	}
	if err := json.Unmarshal(nlpSettings, &s.NLP); err != nil {
		return nil, fmt.Errorf("failed to decode nlp settings: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) CreateSession(ctx context.Context, userID, handle string) (*models.Session, error) {
	s := &models.Session{
		ID:       uuid.New().String(),
		UserID:   userID,
		Handle:   handle,
		Status:   models.SessionInactive,
		Settings: models.DefaultSessionSettings(),
		NLP:      models.DefaultNLPSettings(),
	}
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return nil, err
	}
	nlpSettings, err := json.Marshal(s.NLP)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO sessions (id, user_id, handle, status, settings, nlp)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING last_active, created_at, updated_at`,
		s.ID, userID, handle, s.Status, settings, nlpSettings,
	).Scan(&s.LastActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("%w: session for handle %s exists", models.ErrValidation, handle)
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := r.scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) GetSessionByHandle(ctx context.Context, userID, handle string) (*models.Session, error) {
	s, err := r.scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 AND handle = $2`, userID, handle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session for handle %s", models.ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY last_active DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ActiveSessions lists every authenticated session across users, for the
// scheduled-delivery pass.
func (r *SessionRepository) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, lastActive time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2, last_active = $3, updated_at = now() WHERE id = $1`,
		sessionID, status, lastActive)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	return nil
}

func (r *SessionRepository) SetPairingCode(ctx context.Context, sessionID, code string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET pairing_code = $2, updated_at = now() WHERE id = $1`,
		sessionID, code)
	return err
}

func (r *SessionRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_active = $2, updated_at = now() WHERE id = $1`,
		sessionID, at)
	return err
}

func (r *SessionRepository) UpdateSettings(ctx context.Context, sessionID string, settings models.SessionSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET settings = $2, updated_at = now() WHERE id = $1`, sessionID, raw)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	return nil
}

func (r *SessionRepository) UpdateNLPSettings(ctx context.Context, sessionID string, nlpSettings models.NLPSettings) error {
	raw, err := json.Marshal(nlpSettings)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET nlp = $2, updated_at = now() WHERE id = $1`, sessionID, raw)
	if err != nil {
		return fmt.Errorf("failed to update nlp settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	return nil
}

func (r *SessionRepository) QueueMessage(ctx context.Context, msg *models.QueuedMessage) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO session_queue (session_id, content, kind, priority, scheduled_for, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		msg.SessionID, msg.Content, msg.Kind, msg.Priority, msg.ScheduledFor, msg.Status,
	).Scan(&msg.ID, &msg.CreatedAt)
}

// DueMessages returns pending queue entries whose scheduled time has passed,
// oldest first within the same priority.
func (r *SessionRepository) DueMessages(ctx context.Context, sessionID string, now time.Time) ([]models.QueuedMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, content, kind, priority, scheduled_for, status, created_at
		 FROM session_queue
		 WHERE session_id = $1 AND status = 'pending' AND scheduled_for <= $2
		 ORDER BY priority DESC, scheduled_for ASC, id ASC`,
		sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.QueuedMessage
	for rows.Next() {
		var m models.QueuedMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &m.Kind, &m.Priority,
			&m.ScheduledFor, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *SessionRepository) MarkMessage(ctx context.Context, messageID int64, status models.DeliveryStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE session_queue SET status = $2 WHERE id = $1`, messageID, status)
	return err
}

// FailPending marks every undelivered queue entry failed. Called on session
// teardown so nothing is silently dropped.
func (r *SessionRepository) FailPending(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE session_queue SET status = 'failed' WHERE session_id = $1 AND status = 'pending'`,
		sessionID)
	return err
}

func (r *SessionRepository) LogError(ctx context.Context, sessionID, errText, errContext string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_errors (session_id, error, context) VALUES ($1, $2, $3)`,
		sessionID, errText, errContext)
	return err
}

func (r *SessionRepository) ListErrors(ctx context.Context, sessionID string, limit, offset int) ([]models.SessionError, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, ts, error, context
		 FROM session_errors
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list session errors: %w", err)
	}
	defer rows.Close()

	var errs []models.SessionError
	for rows.Next() {
		var e models.SessionError
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.Error, &e.Context); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
