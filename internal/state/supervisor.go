package state

import (
	"sync"

	"github.com/MreRes/financial-bot/internal/transport"
)

// Worker is the supervisor's record of one running session: its transport
// channel, its event queue and its stop signal. Events are consumed by a
// single goroutine, so per-session ordering is the queue's ordering.
type Worker struct {
	SessionID string
	ChannelID string
	Events    chan transport.Event

	stopOnce sync.Once
	stop     chan struct{}
}

// Stop signals the worker goroutine to exit. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Stopped returns the channel closed by Stop.
func (w *Worker) Stopped() <-chan struct{} {
	return w.stop
}

// Supervisor is the process-local registry of running session workers,
// indexed by session id and by transport channel id. It replaces any global
// client map: ownership of a channel is explicit and scoped to one session.
type Supervisor struct {
	mu        sync.RWMutex
	bySession map[string]*Worker
	byChannel map[string]*Worker
	locks     map[string]*sync.Mutex
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		bySession: make(map[string]*Worker),
		byChannel: make(map[string]*Worker),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Register creates and indexes a worker for the session, replacing and
// stopping any previous one.
func (s *Supervisor) Register(sessionID, channelID string, queueSize int) *Worker {
	w := &Worker{
		SessionID: sessionID,
		ChannelID: channelID,
		Events:    make(chan transport.Event, queueSize),
		stop:      make(chan struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.bySession[sessionID]; ok {
		prev.Stop()
		delete(s.byChannel, prev.ChannelID)
	}
	s.bySession[sessionID] = w
	s.byChannel[channelID] = w
	s.mu.Unlock()

	return w
}

func (s *Supervisor) Get(sessionID string) *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bySession[sessionID]
}

func (s *Supervisor) ByChannel(channelID string) *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byChannel[channelID]
}

// Remove stops and unregisters the session's worker, if any.
func (s *Supervisor) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.bySession[sessionID]; ok {
		w.Stop()
		delete(s.byChannel, w.ChannelID)
		delete(s.bySession, sessionID)
	}
}

// LockFor returns the mutex serializing lifecycle transitions for one
// session. Workers and API callers both take it, so no two transitions for
// the same session run concurrently.
func (s *Supervisor) LockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[sessionID] = l
	return l
}

// Forget drops the lifecycle lock after a session is deleted.
func (s *Supervisor) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sessionID)
}
