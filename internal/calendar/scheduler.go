package calendar

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// DefaultRepairSpec is the cron spec used when none is configured.
const DefaultRepairSpec = "@every 5m"

// HomeRepairGrace is how old a user must be before a missing home calendar
// is recreated. Younger users may still be inside Register, which deletes
// the user again when the home calendar write fails.
const HomeRepairGrace = 10 * time.Minute

// HomeRefLister lists every user with its assigned home calendar.
type HomeRefLister interface {
	ListHomeRefs(ctx context.Context) ([]models.HomeRef, error)
}

// CalendarIndex reports which calendar IDs still exist.
type CalendarIndex interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// EventIndex lists and purges events by calendar.
type EventIndex interface {
	DistinctCalendarIDs(ctx context.Context) ([]string, error)
	DeleteByCalendar(ctx context.Context, calendarID string) (int64, error)
}

// HomeCreator recreates a missing home calendar.
type HomeCreator interface {
	CreateHomeCalendar(ctx context.Context, userID string) (string, error)
}

// RepairReport summarizes one repair pass.
type RepairReport struct {
	StartedAt       time.Time `json:"startedAt"`
	Duration        string    `json:"duration"`
	OrphanCalendars int       `json:"orphanCalendars"`
	EventsPurged    int64     `json:"eventsPurged"`
	HomesRecreated  int       `json:"homesRecreated"`
	Errors          int       `json:"errors"`
}

// RepairScheduler periodically restores cross-collection invariants that a
// crash between two writes can leave broken: events whose calendar is gone,
// and users whose home calendar was never written.
type RepairScheduler struct {
	cron      *cron.Cron
	spec      string
	users     HomeRefLister
	calendars CalendarIndex
	events    EventIndex
	homes     HomeCreator
	logger    *slog.Logger
	grace     time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	last    *RepairReport
	running sync.Mutex
}

// NewRepairScheduler creates a repair scheduler. An empty spec uses DefaultRepairSpec.
func NewRepairScheduler(users HomeRefLister, calendars CalendarIndex, events EventIndex, homes HomeCreator, spec string, logger *slog.Logger) *RepairScheduler {
	if spec == "" {
		spec = DefaultRepairSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairScheduler{
		cron:      cron.New(cron.WithSeconds()),
		spec:      spec,
		users:     users,
		calendars: calendars,
		events:    events,
		homes:     homes,
		logger:    logger,
		grace:     HomeRepairGrace,
		now:       time.Now,
	}
}

// Start registers the repair job and starts the cron loop.
func (s *RepairScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("repair pass failed", "error", err)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("repair scheduler started", "spec", s.spec)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for a running pass.
func (s *RepairScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("repair scheduler stopped")
}

// LastReport returns the report of the most recent pass, or nil.
func (s *RepairScheduler) LastReport() *RepairReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// NextRun returns when the repair job runs next, or nil before Start.
func (s *RepairScheduler) NextRun() *time.Time {
	for _, entry := range s.cron.Entries() {
		if !entry.Next.IsZero() {
			next := entry.Next
			return &next
		}
	}
	return nil
}

// RunOnce performs a single repair pass. Concurrent calls are serialized.
func (s *RepairScheduler) RunOnce(ctx context.Context) (*RepairReport, error) {
	s.running.Lock()
	defer s.running.Unlock()

	report := &RepairReport{StartedAt: time.Now().UTC()}

	if err := s.purgeOrphanedEvents(ctx, report); err != nil {
		return nil, err
	}
	if err := s.healHomeCalendars(ctx, report); err != nil {
		return nil, err
	}
	report.Duration = time.Since(report.StartedAt).String()

	if report.EventsPurged > 0 || report.HomesRecreated > 0 || report.Errors > 0 {
		s.logger.Info("repair pass completed",
			"orphan_calendars", report.OrphanCalendars,
			"events_purged", report.EventsPurged,
			"homes_recreated", report.HomesRecreated,
			"errors", report.Errors)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

func (s *RepairScheduler) purgeOrphanedEvents(ctx context.Context, report *RepairReport) error {
	ids, err := s.events.DistinctCalendarIDs(ctx)
	if err != nil {
		return err
	}
	existing, err := s.calendars.ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if existing[id] {
			continue
		}
		report.OrphanCalendars++
		n, err := s.events.DeleteByCalendar(ctx, id)
		if err != nil {
			report.Errors++
			s.logger.Warn("purging orphaned events failed", "calendar_id", id, "error", err)
			continue
		}
		report.EventsPurged += n
	}
	return nil
}

func (s *RepairScheduler) healHomeCalendars(ctx context.Context, report *RepairReport) error {
	refs, err := s.users.ListHomeRefs(ctx)
	if err != nil {
		return err
	}
	cutoff := s.now().Add(-s.grace)
	settled := refs[:0]
	for _, ref := range refs {
		if ref.CreatedAt.After(cutoff) {
			continue
		}
		settled = append(settled, ref)
	}
	refs = settled

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.HomeCalendarID)
	}
	existing, err := s.calendars.ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if existing[ref.HomeCalendarID] {
			continue
		}
		_, err := s.homes.CreateHomeCalendar(ctx, ref.UserID)
		switch {
		case err == nil:
			report.HomesRecreated++
			s.logger.Warn("recreated missing home calendar", "user_id", ref.UserID, "calendar_id", ref.HomeCalendarID)
		case apperr.Is(err, apperr.KindAlreadyExists):
		default:
			report.Errors++
			s.logger.Warn("recreating home calendar failed", "user_id", ref.UserID, "error", err)
		}
	}
	return nil
}
