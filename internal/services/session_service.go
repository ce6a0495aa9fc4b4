package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/models"
	"github.com/MreRes/financial-bot/internal/state"
	"github.com/MreRes/financial-bot/internal/transport"
)

// SessionStore is the session-side storage contract.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, handle string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetSessionByHandle(ctx context.Context, userID, handle string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string) ([]models.Session, error)
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, lastActive time.Time) error
	SetPairingCode(ctx context.Context, sessionID, code string) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	UpdateSettings(ctx context.Context, sessionID string, settings models.SessionSettings) error
	UpdateNLPSettings(ctx context.Context, sessionID string, nlpSettings models.NLPSettings) error
	DeleteSession(ctx context.Context, sessionID string) error
	QueueMessage(ctx context.Context, msg *models.QueuedMessage) error
	DueMessages(ctx context.Context, sessionID string, now time.Time) ([]models.QueuedMessage, error)
	MarkMessage(ctx context.Context, messageID int64, status models.DeliveryStatus) error
	FailPending(ctx context.Context, sessionID string) error
	LogError(ctx context.Context, sessionID, errText, errContext string) error
	ListErrors(ctx context.Context, sessionID string, limit, offset int) ([]models.SessionError, error)
}

// HandleStore covers the handle registration slice of the user storage.
type HandleStore interface {
	HandleOwner(ctx context.Context, handle string) (string, error)
	AddHandle(ctx context.Context, userID, handle string) error
	TouchHandle(ctx context.Context, userID, handle string, at time.Time) error
}

// Dispatcher handles one inbound message for a session.
type Dispatcher interface {
	Handle(ctx context.Context, sess *models.Session, text string) (string, error)
}

const queueFlushInterval = 30 * time.Second

// SessionService owns the session lifecycle: pairing, the per-session worker
// goroutine, teardown and the outbound queue. Lifecycle transitions for one
// session are serialized through the supervisor's per-session lock.
type SessionService struct {
	sessions   SessionStore
	users      HandleStore
	transport  transport.Transport
	supervisor *state.Supervisor
	dispatcher Dispatcher
	queueSize  int
	log        zerolog.Logger
	now        func() time.Time
}

func NewSessionService(
	sessions SessionStore,
	users HandleStore,
	tr transport.Transport,
	supervisor *state.Supervisor,
	dispatcher Dispatcher,
	queueSize int,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		users:      users,
		transport:  tr,
		supervisor: supervisor,
		dispatcher: dispatcher,
		queueSize:  queueSize,
		log:        log,
		now:        time.Now,
	}
}

// Run pumps transport events to the owning session workers. Blocks until the
// context is done or the transport closes its event stream. Events for
// unknown channels are dropped; a full worker queue is recorded on the
// session's error log instead of blocking the pump.
func (s *SessionService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.transport.Events():
			if !ok {
				return nil
			}
			w := s.supervisor.ByChannel(ev.ChannelID)
			if w == nil {
				s.log.Warn().Str("channel_id", ev.ChannelID).Str("type", string(ev.Type)).
					Msg("event for unknown channel dropped")
				continue
			}
			select {
			case w.Events <- ev:
			default:
				s.log.Error().Str("session_id", w.SessionID).Msg("worker queue full, event dropped")
				if err := s.sessions.LogError(ctx, w.SessionID, "worker queue full", string(ev.Type)); err != nil {
					s.log.Error().Err(err).Msg("failed to record queue overflow")
				}
			}
		}
	}
}

// Initialize registers the handle (if new), creates or reuses the session for
// (user, handle) and opens a transport channel for it. Idempotent: an already
// active session with a running worker is returned as-is. The session ends up
// pending until the transport reports the channel ready.
func (s *SessionService) Initialize(ctx context.Context, userID, handle string) (*models.Session, error) {
	if err := models.ValidateHandle(handle); err != nil {
		return nil, err
	}

	owner, err := s.users.HandleOwner(ctx, handle)
	switch {
	case err == nil:
		if owner != userID {
			return nil, models.ErrDuplicateHandle
		}
	case errors.Is(err, models.ErrNotFound):
		// quota is enforced here, before any session exists
		if err := s.users.AddHandle(ctx, userID, handle); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	sess, err := s.sessions.GetSessionByHandle(ctx, userID, handle)
	if errors.Is(err, models.ErrNotFound) {
		sess, err = s.sessions.CreateSession(ctx, userID, handle)
	}
	if err != nil {
		return nil, err
	}

	lock := s.supervisor.LockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if sess.Status == models.SessionExpired {
		return nil, fmt.Errorf("%w: session %s is expired", models.ErrValidation, sess.ID)
	}
	if sess.Status == models.SessionActive && s.supervisor.Get(sess.ID) != nil {
		return sess, nil
	}

	channelID, err := s.transport.Open(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("%w: open channel for %s: %v", models.ErrTransport, handle, err)
	}

	w := s.supervisor.Register(sess.ID, channelID, s.queueSize)
	if err := s.sessions.UpdateStatus(ctx, sess.ID, models.SessionPending, s.now()); err != nil {
		return nil, err
	}
	sess.Status = models.SessionPending

	go s.runWorker(context.WithoutCancel(ctx), w)

	s.log.Info().Str("session_id", sess.ID).Str("handle", handle).Msg("session initializing")
	return sess, nil
}

func (s *SessionService) runWorker(ctx context.Context, w *state.Worker) {
	ticker := time.NewTicker(queueFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.Stopped():
			return
		case ev := <-w.Events:
			s.handleEvent(ctx, w, ev)
		case <-ticker.C:
			s.flushQueue(ctx, w)
		}
	}
}

// handleEvent processes one transport event. Events run one at a time per
// session, so ordering within a session is the queue's ordering.
func (s *SessionService) handleEvent(ctx context.Context, w *state.Worker, ev transport.Event) {
	switch ev.Type {
	case transport.EventPairingCode:
		if err := s.sessions.SetPairingCode(ctx, w.SessionID, ev.Text); err != nil {
			s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to store pairing code")
		}

	case transport.EventReady:
		lock := s.supervisor.LockFor(w.SessionID)
		lock.Lock()
		defer lock.Unlock()

		now := s.now()
		if err := s.sessions.UpdateStatus(ctx, w.SessionID, models.SessionActive, now); err != nil {
			s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to activate session")
			return
		}
		// the code is single-use; clear it once authenticated
		if err := s.sessions.SetPairingCode(ctx, w.SessionID, ""); err != nil {
			s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to clear pairing code")
		}
		if sess, err := s.sessions.GetSession(ctx, w.SessionID); err == nil {
			if err := s.users.TouchHandle(ctx, sess.UserID, sess.Handle, now); err != nil {
				s.log.Error().Err(err).Str("handle", sess.Handle).Msg("failed to touch handle")
			}
		}
		s.log.Info().Str("session_id", w.SessionID).Msg("session active")
		s.flushQueue(ctx, w)

	case transport.EventMessage:
		s.handleMessage(ctx, w, ev)

	case transport.EventLost:
		lock := s.supervisor.LockFor(w.SessionID)
		lock.Lock()
		defer lock.Unlock()

		s.log.Warn().Str("session_id", w.SessionID).Msg("channel lost")
		if err := s.sessions.UpdateStatus(ctx, w.SessionID, models.SessionInactive, s.now()); err != nil {
			s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to deactivate session")
		}
		s.supervisor.Remove(w.SessionID)
	}
}

func (s *SessionService) handleMessage(ctx context.Context, w *state.Worker, ev transport.Event) {
	sess, err := s.sessions.GetSession(ctx, w.SessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to load session")
		return
	}
	if sess.Status != models.SessionActive {
		return
	}

	now := s.now()
	if err := s.sessions.TouchSession(ctx, sess.ID, now); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to touch session")
	}
	if err := s.users.TouchHandle(ctx, sess.UserID, sess.Handle, now); err != nil {
		s.log.Error().Err(err).Str("handle", sess.Handle).Msg("failed to touch handle")
	}

	if sess.Settings.AutoReplyEnabled && sess.Settings.AutoReplyText != "" {
		if err := s.transport.Send(ctx, w.ChannelID, sess.Settings.AutoReplyText); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to send auto-reply")
		}
	}

	answer, err := s.dispatcher.Handle(ctx, sess, ev.Text)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("message handling failed")
		if logErr := s.sessions.LogError(ctx, sess.ID, err.Error(), ev.Text); logErr != nil {
			s.log.Error().Err(logErr).Msg("failed to record session error")
		}
	}
	if answer == "" {
		return
	}
	if err := s.transport.Send(ctx, w.ChannelID, answer); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to send reply")
		if logErr := s.sessions.LogError(ctx, sess.ID, err.Error(), "send reply"); logErr != nil {
			s.log.Error().Err(logErr).Msg("failed to record session error")
		}
	}
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	return s.sessions.ListSessions(ctx, userID)
}

// Disconnect tears the channel down and marks the session inactive. Pending
// outbound messages are marked failed. Disconnecting an inactive session is a
// no-op.
func (s *SessionService) Disconnect(ctx context.Context, sessionID string) error {
	lock := s.supervisor.LockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionActive && sess.Status != models.SessionPending {
		return nil
	}
	return s.teardown(ctx, sessionID, models.SessionInactive)
}

// Delete disconnects the session if needed and removes it entirely.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	lock := s.supervisor.LockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == models.SessionActive || sess.Status == models.SessionPending {
		if err := s.teardown(ctx, sessionID, models.SessionInactive); err != nil {
			return err
		}
	} else if err := s.sessions.FailPending(ctx, sessionID); err != nil {
		return err
	}

	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.supervisor.Forget(sessionID)
	s.log.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// Expire marks the session expired. An expired session keeps its data but
// will not pair again until an administrator reactivates it.
func (s *SessionService) Expire(ctx context.Context, sessionID string) error {
	lock := s.supervisor.LockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.teardown(ctx, sessionID, models.SessionExpired)
}

// Reactivate lifts the expired mark so the session can pair again.
// Administrative action; a no-op on non-expired sessions.
func (s *SessionService) Reactivate(ctx context.Context, sessionID string) error {
	lock := s.supervisor.LockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionExpired {
		return nil
	}
	return s.sessions.UpdateStatus(ctx, sessionID, models.SessionInactive, s.now())
}

// teardown closes the transport channel, stops the worker and records the
// final status. Caller holds the session's lifecycle lock.
func (s *SessionService) teardown(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if w := s.supervisor.Get(sessionID); w != nil {
		if err := s.transport.Close(ctx, w.ChannelID); err != nil {
			s.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to close channel")
		}
		s.supervisor.Remove(sessionID)
	}
	if err := s.sessions.UpdateStatus(ctx, sessionID, status, s.now()); err != nil {
		return err
	}
	if err := s.sessions.FailPending(ctx, sessionID); err != nil {
		return err
	}
	s.log.Info().Str("session_id", sessionID).Str("status", string(status)).Msg("session torn down")
	return nil
}

func (s *SessionService) UpdateSettings(ctx context.Context, sessionID string, settings models.SessionSettings) error {
	return s.sessions.UpdateSettings(ctx, sessionID, settings)
}

func (s *SessionService) UpdateNLPSettings(ctx context.Context, sessionID string, nlpSettings models.NLPSettings) error {
	return s.sessions.UpdateNLPSettings(ctx, sessionID, nlpSettings)
}

// AddCustomPhrases appends phrase-to-intent mappings to the session's NLP
// settings.
func (s *SessionService) AddCustomPhrases(ctx context.Context, sessionID string, phrases []models.CustomPhrase) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	nlpSettings := sess.NLP
	nlpSettings.CustomPhrases = append(nlpSettings.CustomPhrases, phrases...)
	return s.sessions.UpdateNLPSettings(ctx, sessionID, nlpSettings)
}

// QueueMessage enqueues an outbound message. It is delivered by the session
// worker once the session is active and the scheduled time has passed.
func (s *SessionService) QueueMessage(ctx context.Context, sessionID, content, kind string, priority int, scheduledFor time.Time) (*models.QueuedMessage, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty message content", models.ErrValidation)
	}
	if scheduledFor.IsZero() {
		scheduledFor = s.now()
	}
	msg := &models.QueuedMessage{
		SessionID:    sessionID,
		Content:      content,
		Kind:         kind,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		Status:       models.DeliveryPending,
	}
	if err := s.sessions.QueueMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// flushQueue delivers due outbound messages over the worker's channel. The
// queue waits while the session is pending or inactive; delivery needs a
// paired channel, so anything flushed earlier would fail for good.
func (s *SessionService) flushQueue(ctx context.Context, w *state.Worker) {
	sess, err := s.sessions.GetSession(ctx, w.SessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to load session")
		return
	}
	if sess.Status != models.SessionActive {
		return
	}

	msgs, err := s.sessions.DueMessages(ctx, w.SessionID, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("session_id", w.SessionID).Msg("failed to list due messages")
		return
	}
	for _, m := range msgs {
		status := models.DeliverySent
		if err := s.transport.Send(ctx, w.ChannelID, m.Content); err != nil {
			s.log.Error().Err(err).Int64("message_id", m.ID).Msg("failed to deliver queued message")
			status = models.DeliveryFailed
		}
		if err := s.sessions.MarkMessage(ctx, m.ID, status); err != nil {
			s.log.Error().Err(err).Int64("message_id", m.ID).Msg("failed to mark queued message")
		}
	}
}

func (s *SessionService) ErrorLog(ctx context.Context, sessionID string, limit, offset int) ([]models.SessionError, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.sessions.ListErrors(ctx, sessionID, limit, offset)
}
