package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MreRes/financial-bot/internal/logger"
	"github.com/MreRes/financial-bot/internal/models"
	"github.com/MreRes/financial-bot/internal/state"
	"github.com/MreRes/financial-bot/internal/transport"
)

const testHandle = "6281234567890"

type fakeSessionStore struct {
	mu       sync.Mutex
	seq      int
	qseq     int64
	sessions map[string]*models.Session
	queue    map[int64]*models.QueuedMessage
	errsLog  []models.SessionError
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*models.Session),
		queue:    make(map[int64]*models.QueuedMessage),
	}
}

func (f *fakeSessionStore) CreateSession(_ context.Context, userID, handle string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Handle == handle {
			return nil, fmt.Errorf("%w: session for handle %s exists", models.ErrValidation, handle)
		}
	}
	f.seq++
	s := &models.Session{
		ID:       fmt.Sprintf("sess-%d", f.seq),
		UserID:   userID,
		Handle:   handle,
		Status:   models.SessionInactive,
		Settings: models.DefaultSessionSettings(),
		NLP:      models.DefaultNLPSettings(),
	}
	f.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) GetSessionByHandle(_ context.Context, userID, handle string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Handle == handle {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: session for handle %s", models.ErrNotFound, handle)
}

func (f *fakeSessionStore) ListSessions(_ context.Context, userID string) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) UpdateStatus(_ context.Context, sessionID string, status models.SessionStatus, lastActive time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	s.Status = status
	s.LastActive = lastActive
	return nil
}

func (f *fakeSessionStore) SetPairingCode(_ context.Context, sessionID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.PairingCode = code
	}
	return nil
}

func (f *fakeSessionStore) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.LastActive = at
	}
	return nil
}

func (f *fakeSessionStore) UpdateSettings(_ context.Context, sessionID string, settings models.SessionSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	s.Settings = settings
	return nil
}

func (f *fakeSessionStore) UpdateNLPSettings(_ context.Context, sessionID string, nlpSettings models.NLPSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	s.NLP = nlpSettings
	return nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSessionStore) QueueMessage(_ context.Context, msg *models.QueuedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qseq++
	msg.ID = f.qseq
	cp := *msg
	f.queue[msg.ID] = &cp
	return nil
}

func (f *fakeSessionStore) DueMessages(_ context.Context, sessionID string, now time.Time) ([]models.QueuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.QueuedMessage
	for _, m := range f.queue {
		if m.SessionID == sessionID && m.Status == models.DeliveryPending && !m.ScheduledFor.After(now) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) MarkMessage(_ context.Context, messageID int64, status models.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.queue[messageID]; ok {
		m.Status = status
	}
	return nil
}

func (f *fakeSessionStore) FailPending(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.queue {
		if m.SessionID == sessionID && m.Status == models.DeliveryPending {
			m.Status = models.DeliveryFailed
		}
	}
	return nil
}

func (f *fakeSessionStore) LogError(_ context.Context, sessionID, errText, errContext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errsLog = append(f.errsLog, models.SessionError{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Error:     errText,
		Context:   errContext,
	})
	return nil
}

func (f *fakeSessionStore) ListErrors(_ context.Context, sessionID string, limit, offset int) ([]models.SessionError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SessionError
	for _, e := range f.errsLog {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) status(t *testing.T, sessionID string) models.SessionStatus {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	require.True(t, ok)
	return s.Status
}

type fakeHandleStore struct {
	mu      sync.Mutex
	quota   int
	owners  map[string]string
	counts  map[string]int
	touched int
}

func newFakeHandleStore(quota int) *fakeHandleStore {
	return &fakeHandleStore{
		quota:  quota,
		owners: make(map[string]string),
		counts: make(map[string]int),
	}
}

func (f *fakeHandleStore) HandleOwner(_ context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[handle]
	if !ok {
		return "", fmt.Errorf("%w: handle %s", models.ErrNotFound, handle)
	}
	return owner, nil
}

func (f *fakeHandleStore) AddHandle(_ context.Context, userID, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[userID] >= f.quota {
		return models.ErrQuotaExceeded
	}
	if _, ok := f.owners[handle]; ok {
		return models.ErrDuplicateHandle
	}
	f.owners[handle] = userID
	f.counts[userID]++
	return nil
}

func (f *fakeHandleStore) TouchHandle(_ context.Context, userID, handle string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

type fakeTransport struct {
	mu     sync.Mutex
	seq    int
	events chan transport.Event
	sent   []string
	closed []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Open(_ context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("ch-%d", f.seq), nil
}

func (f *fakeTransport) Send(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) Close(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, channelID)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

type fakeDispatcher struct {
	reply string
	err   error
}

func (f *fakeDispatcher) Handle(_ context.Context, sess *models.Session, text string) (string, error) {
	return f.reply, f.err
}

type sessionFixture struct {
	store      *fakeSessionStore
	handles    *fakeHandleStore
	transport  *fakeTransport
	supervisor *state.Supervisor
	dispatcher *fakeDispatcher
	svc        *SessionService
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		store:      newFakeSessionStore(),
		handles:    newFakeHandleStore(1),
		transport:  newFakeTransport(),
		supervisor: state.NewSupervisor(),
		dispatcher: &fakeDispatcher{reply: "ok"},
	}
	f.svc = NewSessionService(
		f.store,
		f.handles,
		f.transport,
		f.supervisor,
		f.dispatcher,
		16,
		logger.NewWithWriter(testWriter{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go f.svc.Run(ctx)
	t.Cleanup(cancel)
	return f
}

// activate pairs the session: emits the ready event and waits for the status
// transition.
func (f *sessionFixture) activate(t *testing.T, sessionID string) {
	t.Helper()
	w := f.supervisor.Get(sessionID)
	require.NotNil(t, w)
	f.transport.events <- transport.Event{Type: transport.EventReady, ChannelID: w.ChannelID}
	require.Eventually(t, func() bool {
		return f.store.status(t, sessionID) == models.SessionActive
	}, time.Second, 10*time.Millisecond)
}

func TestInitializeCreatesPendingSession(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })

	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, "user-1", f.handles.owners[testHandle])
	assert.Equal(t, 1, f.transport.openCount())
	assert.NotNil(t, f.supervisor.Get(sess.ID))
}

func TestInitializeRejectsBadHandle(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.svc.Initialize(context.Background(), "user-1", "abc")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.store.sessions)
}

func TestInitializeQuotaExceeded(t *testing.T) {
	f := newSessionFixture(t)
	f.handles.counts["user-1"] = 1 // quota of one already used

	_, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)
	assert.Empty(t, f.store.sessions, "a rejected registration must not leave a session behind")
}

func TestInitializeForeignHandle(t *testing.T) {
	f := newSessionFixture(t)
	f.handles.owners[testHandle] = "user-2"

	_, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	assert.ErrorIs(t, err, models.ErrDuplicateHandle)
}

func TestInitializeIsIdempotentForActiveSession(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })
	f.activate(t, sess.ID)

	again, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, 1, f.transport.openCount(), "an active session must not open a second channel")
}

func TestPairingCodeIsStoredAndCleared(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })

	w := f.supervisor.Get(sess.ID)
	f.transport.events <- transport.Event{Type: transport.EventPairingCode, ChannelID: w.ChannelID, Text: "a1b2c3d4"}
	require.Eventually(t, func() bool {
		got, err := f.store.GetSession(context.Background(), sess.ID)
		return err == nil && got.PairingCode == "a1b2c3d4"
	}, time.Second, 10*time.Millisecond)

	f.activate(t, sess.ID)
	got, err := f.store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PairingCode, "the code is single-use")
	assert.Positive(t, f.handles.touched)
}

func TestMessageIsDispatchedAndAnswered(t *testing.T) {
	f := newSessionFixture(t)
	f.dispatcher.reply = "✅ Pengeluaran sebesar -Rp50.000 telah dicatat."

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })
	f.activate(t, sess.ID)

	w := f.supervisor.Get(sess.ID)
	f.transport.events <- transport.Event{Type: transport.EventMessage, ChannelID: w.ChannelID, Sender: testHandle, Text: "beli makan 50000"}

	require.Eventually(t, func() bool {
		for _, s := range f.transport.sentMessages() {
			if s == f.dispatcher.reply {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherFailureIsLogged(t *testing.T) {
	f := newSessionFixture(t)
	f.dispatcher.reply = "fallback"
	f.dispatcher.err = fmt.Errorf("classify: model unavailable")

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })
	f.activate(t, sess.ID)

	w := f.supervisor.Get(sess.ID)
	f.transport.events <- transport.Event{Type: transport.EventMessage, ChannelID: w.ChannelID, Text: "beli makan 50000"}

	require.Eventually(t, func() bool {
		errs, _ := f.store.ListErrors(context.Background(), sess.ID, 10, 0)
		return len(errs) == 1
	}, time.Second, 10*time.Millisecond)

	// the user still gets the fallback reply
	assert.Contains(t, f.transport.sentMessages(), "fallback")
}

func TestMessageForInactiveSessionIsIgnored(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })

	// still pending: no ready event yet
	w := f.supervisor.Get(sess.ID)
	f.transport.events <- transport.Event{Type: transport.EventMessage, ChannelID: w.ChannelID, Text: "beli makan 50000"}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.transport.sentMessages())
}

func TestDisconnectTearsDown(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	f.activate(t, sess.ID)

	_, err = f.svc.QueueMessage(context.Background(), sess.ID, "tunggu", "reminder", 0, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.svc.Disconnect(context.Background(), sess.ID))

	assert.Equal(t, models.SessionInactive, f.store.status(t, sess.ID))
	assert.Nil(t, f.supervisor.Get(sess.ID))
	assert.Len(t, f.transport.closed, 1)
	for _, m := range f.store.queue {
		assert.Equal(t, models.DeliveryFailed, m.Status)
	}
}

func TestDisconnectInactiveSessionIsNoOp(t *testing.T) {
	f := newSessionFixture(t)
	sess, err := f.store.CreateSession(context.Background(), "user-1", testHandle)
	require.NoError(t, err)

	require.NoError(t, f.svc.Disconnect(context.Background(), sess.ID))
	assert.Empty(t, f.transport.closed)
}

func TestDeleteRemovesSessionAndFailsQueue(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	f.activate(t, sess.ID)

	_, err = f.svc.QueueMessage(context.Background(), sess.ID, "tunggu", "reminder", 0, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), sess.ID))

	_, err = f.store.GetSession(context.Background(), sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	for _, m := range f.store.queue {
		assert.Equal(t, models.DeliveryFailed, m.Status)
	}
}

func TestExpireMarksSessionExpired(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	f.activate(t, sess.ID)

	require.NoError(t, f.svc.Expire(context.Background(), sess.ID))
	assert.Equal(t, models.SessionExpired, f.store.status(t, sess.ID))
	assert.Nil(t, f.supervisor.Get(sess.ID))
}

func TestReadyEventFlushesDueQueue(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })

	msg, err := f.svc.QueueMessage(context.Background(), sess.ID, "laporan mingguan siap", "report", 1, time.Time{})
	require.NoError(t, err)

	f.activate(t, sess.ID)

	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.queue[msg.ID].Status == models.DeliverySent
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, f.transport.sentMessages(), "laporan mingguan siap")
}

func TestQueueWaitsWhileSessionIsPending(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(sess.ID) })

	msg, err := f.svc.QueueMessage(context.Background(), sess.ID, "laporan harian siap", "daily_summary", 1, time.Time{})
	require.NoError(t, err)

	// a flush tick lands before the channel is paired
	w := f.supervisor.Get(sess.ID)
	f.svc.flushQueue(context.Background(), w)

	f.store.mu.Lock()
	status := f.store.queue[msg.ID].Status
	f.store.mu.Unlock()
	assert.Equal(t, models.DeliveryPending, status, "an unpaired channel must not consume the queue")
	assert.Empty(t, f.transport.sentMessages())

	// pairing delivers it
	f.activate(t, sess.ID)
	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.queue[msg.ID].Status == models.DeliverySent
	}, time.Second, 10*time.Millisecond)
}

func TestChannelLostDeactivatesSession(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	f.activate(t, sess.ID)

	w := f.supervisor.Get(sess.ID)
	f.transport.events <- transport.Event{Type: transport.EventLost, ChannelID: w.ChannelID}

	require.Eventually(t, func() bool {
		return f.store.status(t, sess.ID) == models.SessionInactive
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, f.supervisor.Get(sess.ID))
}

func TestExpiredSessionCannotPairUntilReactivated(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	f.activate(t, sess.ID)
	require.NoError(t, f.svc.Expire(context.Background(), sess.ID))

	_, err = f.svc.Initialize(context.Background(), "user-1", testHandle)
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, f.svc.Reactivate(context.Background(), sess.ID))
	again, err := f.svc.Initialize(context.Background(), "user-1", testHandle)
	require.NoError(t, err)
	t.Cleanup(func() { f.supervisor.Remove(again.ID) })
	assert.Equal(t, models.SessionPending, again.Status)
}

func TestAddCustomPhrases(t *testing.T) {
	f := newSessionFixture(t)
	sess, err := f.store.CreateSession(context.Background(), "user-1", testHandle)
	require.NoError(t, err)

	err = f.svc.AddCustomPhrases(context.Background(), sess.ID, []models.CustomPhrase{
		{Phrase: "gajian", Intent: "transaction.income"},
	})
	require.NoError(t, err)

	got, err := f.store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, got.NLP.CustomPhrases, 1)
	assert.Equal(t, "gajian", got.NLP.CustomPhrases[0].Phrase)
}
