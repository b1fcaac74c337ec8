package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/reminder"
)

// ErrBusy is returned by RunOnce while another pass is still running.
var ErrBusy = errors.New("scheduler pass already running")

// Processor evaluates due reminders. *reminder.Service implements it.
type Processor interface {
	ProcessDue(ctx context.Context, now time.Time) (reminder.Report, error)
}

type Scheduler struct {
	proc     Processor
	clock    reminder.Clock
	spec     string
	loc      *time.Location
	parser   cron.Parser
	log      logx.Logger
	notifyCh chan struct{}
	running  atomic.Bool
}

// New validates spec (a cron expression or descriptor such as "@every 1m").
func New(proc Processor, clock reminder.Clock, spec string, loc *time.Location, log logx.Logger) (*Scheduler, error) {
	if clock == nil {
		clock = reminder.SystemClock()
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		proc:     proc,
		clock:    clock,
		spec:     spec,
		loc:      loc,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:      log.With(logx.String("comp", "scheduler")),
		notifyCh: make(chan struct{}, 1),
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid poll spec %q: %w", spec, err)
	}
	return s, nil
}

// Notify triggers an immediate check. Non-blocking if a check is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start runs until ctx is done. The cron schedule and Notify both feed one
// loop, so passes never overlap inside a process.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	if _, err := c.AddFunc(s.spec, s.Notify); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	s.log.Info("scheduler started", logx.String("spec", s.spec))
	s.Notify()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.notifyCh:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	rep, err := s.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, ErrBusy) || ctx.Err() != nil {
			return
		}
		s.log.Error("process due reminders", logx.Err(err))
		return
	}
	if rep.Fired > 0 || rep.Conflicts > 0 || len(rep.Failures) > 0 {
		s.log.Info("pass complete",
			logx.Int("fired", rep.Fired),
			logx.Int("completed", rep.Completed),
			logx.Int("conflicts", rep.Conflicts),
			logx.Int("backlogged", rep.Backlogged),
			logx.Int("failures", len(rep.Failures)),
		)
	}
	// Reminders still behind get their next interval on the following pass.
	if rep.Backlogged > 0 {
		s.Notify()
	}
}

// RunOnce performs a single evaluation at the clock's current time.
func (s *Scheduler) RunOnce(ctx context.Context) (reminder.Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return reminder.Report{}, ErrBusy
	}
	defer s.running.Store(false)
	return s.proc.ProcessDue(ctx, s.clock.Now())
}
