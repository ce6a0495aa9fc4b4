package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/models"
)

// SessionLister returns the sessions eligible for scheduled deliveries.
type SessionLister interface {
	ActiveSessions(ctx context.Context) ([]models.Session, error)
}

type summarySource interface {
	Summary(ctx context.Context, userID string, period ReportPeriod, lang, timezone string) (string, error)
}

type summaryQueuer interface {
	QueueMessage(ctx context.Context, sessionID, content, kind string, priority int, scheduledFor time.Time) (*models.QueuedMessage, error)
}

const (
	schedulerInterval = 15 * time.Minute
	dailySummaryHour  = 19
	weeklyReportHour  = 7
)

// SchedulerService queues the opt-in daily summaries and weekly reports onto
// the session message queue; the session workers deliver them. Times are
// evaluated in each session's own timezone.
type SchedulerService struct {
	sessions SessionLister
	reports  summarySource
	queue    summaryQueuer
	log      zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]string // sessionID/kind -> local date last queued
}

func NewSchedulerService(sessions SessionLister, reports summarySource, queue summaryQueuer, log zerolog.Logger) *SchedulerService {
	return &SchedulerService{
		sessions: sessions,
		reports:  reports,
		queue:    queue,
		log:      log,
		now:      time.Now,
		sent:     make(map[string]string),
	}
}

// Start runs the delivery loop until the context is done. The first pass
// runs immediately.
func (s *SchedulerService) Start(ctx context.Context) {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SchedulerService) tick(ctx context.Context) {
	sessions, err := s.sessions.ActiveSessions(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list active sessions")
		return
	}

	for i := range sessions {
		sess := &sessions[i]
		loc, err := time.LoadLocation(sess.Settings.Timezone)
		if err != nil {
			loc = time.UTC
		}
		now := s.now().In(loc)

		if sess.Settings.DailySummary && now.Hour() >= dailySummaryHour {
			s.deliver(ctx, sess, ReportDaily, "daily_summary", now.Format("2006-01-02"))
		}
		if sess.Settings.WeeklyReport && now.Weekday() == time.Monday && now.Hour() >= weeklyReportHour {
			s.deliver(ctx, sess, ReportWeekly, "weekly_report", now.Format("2006-01-02"))
		}
	}
}

func (s *SchedulerService) deliver(ctx context.Context, sess *models.Session, period ReportPeriod, kind, day string) {
	key := sess.ID + "/" + kind
	s.mu.Lock()
	if s.sent[key] == day {
		s.mu.Unlock()
		return
	}
	s.sent[key] = day
	s.mu.Unlock()

	text, err := s.reports.Summary(ctx, sess.UserID, period, sess.Settings.Language, sess.Settings.Timezone)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Str("kind", kind).Msg("failed to build scheduled report")
		s.mu.Lock()
		delete(s.sent, key) // retry on the next tick
		s.mu.Unlock()
		return
	}
	if _, err := s.queue.QueueMessage(ctx, sess.ID, text, kind, 1, time.Time{}); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID).Str("kind", kind).Msg("failed to queue scheduled report")
		return
	}
	s.log.Info().Str("session_id", sess.ID).Str("kind", kind).Msg("scheduled report queued")
}
