package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/recurrence"
)

// Store persists reminders.
//
// Save must be a compare-and-swap on Version: it succeeds only when the stored
// Version equals rec.Version, then stores rec with Version+1 (and updates
// rec.Version). A stale Version yields ErrConflict, a missing row ErrNotFound.
// FindDue never returns sent reminders.
type Store interface {
	Load(ctx context.Context, id string) (*models.Reminder, error)
	Insert(ctx context.Context, rec *models.Reminder) error
	Save(ctx context.Context, rec *models.Reminder) error
	FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	List(ctx context.Context, f Filter) ([]*models.Reminder, error)
	Delete(ctx context.Context, id string) error
}

// Filter narrows List. Zero values match everything except sent reminders.
type Filter struct {
	OwnerID       string
	RelatedModule models.RelatedModule
	ReferenceID   string
	IncludeSent   bool
}

// Notifier delivers one firing.
type Notifier interface {
	Notify(ctx context.Context, rec *models.Reminder) error
}

// Report summarizes one ProcessDue pass.
type Report struct {
	Fired      int     // firings committed to the store
	Completed  int     // of which reached the terminal state
	Conflicts  int     // due records another worker committed first
	Backlogged int     // recurring records still due after advancing one interval
	Failures   []error // *DeliveryError values plus per-record store errors
}

type Service struct {
	store    Store
	notifier Notifier
	clock    Clock
	loc      *time.Location
	log      logx.Logger
	newID    func() string
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithLocation sets the zone whose wall clock recurring series follow.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		clock:    SystemClock(),
		loc:      time.Local,
		log:      logx.Nop(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock's time.
func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) Create(ctx context.Context, in Input) (*models.Reminder, error) {
	rec, err := New(s.newID(), in, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	s.log.Info("reminder created",
		logx.String("id", rec.ID),
		logx.Time("trigger_time", rec.TriggerTime),
		logx.String("schedule", recurrence.Describe(rec)),
	)
	return rec, nil
}

func (s *Service) Edit(ctx context.Context, id string, in Input) (*models.Reminder, error) {
	cur, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := ApplyEdit(cur, in, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save reminder %s: %w", id, err)
	}
	s.log.Info("reminder edited",
		logx.String("id", next.ID),
		logx.Time("trigger_time", next.TriggerTime),
		logx.Int("current_count", next.CurrentCount),
	)
	return next, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Reminder, error) {
	return s.store.Load(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*models.Reminder, error) {
	return s.store.List(ctx, f)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("reminder deleted", logx.String("id", id))
	return nil
}

// Overdue lists unsent reminders whose trigger time has passed.
func (s *Service) Overdue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		return nil, err
	}
	out := due[:0]
	for _, rec := range due {
		if IsOverdue(rec, now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Upcoming previews the next n trigger times of a reminder.
func (s *Service) Upcoming(ctx context.Context, id string, n int) ([]time.Time, error) {
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return recurrence.Upcoming(rec, n)
}

// ProcessDue fires every due reminder once and notifies for each committed firing.
//
// The store's version check decides which worker owns a firing; losing a race
// is counted, not treated as an error. Delivery failures are reported but the
// firing stays committed.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("find due reminders: %w", err)
	}

	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		// Not yet due is skipped; a sent record here is a store fault and Fire reports it.
		if !rec.Sent && now.Before(rec.TriggerTime) {
			continue
		}

		fired, err := FireIn(rec, now, s.loc)
		if err != nil {
			rep.Failures = append(rep.Failures, fmt.Errorf("fire reminder %s: %w", rec.ID, err))
			s.log.Error("reminder not fired", logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		if err := s.store.Save(ctx, fired); err != nil {
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
				rep.Conflicts++
				s.log.Debug("reminder firing skipped", logx.String("id", rec.ID), logx.Err(err))
				continue
			}
			rep.Failures = append(rep.Failures, fmt.Errorf("save fired reminder %s: %w", rec.ID, err))
			s.log.Error("reminder firing not saved", logx.String("id", rec.ID), logx.Err(err))
			continue
		}

		rep.Fired++
		if fired.Sent {
			rep.Completed++
		} else if Behind(fired, now) {
			rep.Backlogged++
		}

		if err := s.notifier.Notify(ctx, fired); err != nil {
			derr := &DeliveryError{ReminderID: fired.ID, Occurrence: fired.CurrentCount, Err: err}
			rep.Failures = append(rep.Failures, derr)
			s.log.Warn("reminder delivery failed",
				logx.String("id", fired.ID),
				logx.Int("occurrence", fired.CurrentCount),
				logx.Err(err),
			)
			continue
		}
		s.log.Info("reminder fired",
			logx.String("id", fired.ID),
			logx.Int("occurrence", fired.CurrentCount),
			logx.Bool("sent", fired.Sent),
			logx.Time("next_trigger", fired.TriggerTime),
		)
	}
	return rep, nil
}
