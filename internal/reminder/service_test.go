package reminder_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/reminder"
	"github.com/hray3182/crm-reminders/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []models.Reminder
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, rec *models.Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, *rec)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// conflictStore fails every Save as if another worker committed first.
type conflictStore struct {
	*repository.MemoryStore
}

func (conflictStore) Save(context.Context, *models.Reminder) error { return reminder.ErrConflict }

// leakyStore also returns a sent record from FindDue.
type leakyStore struct {
	*repository.MemoryStore
	sent *models.Reminder
}

func (s leakyStore) FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	due, err := s.MemoryStore.FindDue(ctx, now)
	if err != nil {
		return nil, err
	}
	return append(due, s.sent.Clone()), nil
}

var start = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T, st reminder.Store, n reminder.Notifier, opts ...reminder.Option) (*reminder.Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	seq := 0
	base := []reminder.Option{
		reminder.WithClock(clock),
		reminder.WithLocation(time.UTC),
		reminder.WithIDGenerator(func() string {
			seq++
			return "rem-" + strconv.Itoa(seq)
		}),
	}
	svc := reminder.NewService(st, n, append(base, opts...)...)
	return svc, clock
}

func followUpInput(trigger time.Time) reminder.Input {
	return reminder.Input{
		OwnerID:        "staff-1",
		RelatedModule:  models.ModuleLead,
		ReferenceID:    "lead-7",
		Message:        "Follow up",
		TriggerTime:    trigger,
		Recurring:      true,
		RepeatDays:     7,
		RecursionLimit: 3,
	}
}

func TestServiceFollowUpLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, clock := newService(t, repository.NewMemoryStore(), notifier)

	t0 := start.Add(time.Hour)
	rec, err := svc.Create(ctx, followUpInput(t0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		at := t0.AddDate(0, 0, 7*i).Add(time.Minute)
		clock.Set(at)
		rep, err := svc.ProcessDue(ctx, at)
		if err != nil {
			t.Fatalf("ProcessDue %d: %v", i+1, err)
		}
		if rep.Fired != 1 {
			t.Fatalf("pass %d fired %d, want 1", i+1, rep.Fired)
		}
		// A second pass at the same instant finds nothing new.
		rep, _ = svc.ProcessDue(ctx, at)
		if rep.Fired != 0 {
			t.Fatalf("pass %d fired twice", i+1)
		}
	}

	got, err := svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Sent || got.CurrentCount != 3 {
		t.Fatalf("final state sent=%v count=%d, want sent after 3", got.Sent, got.CurrentCount)
	}
	if notifier.count() != 3 {
		t.Fatalf("notified %d times, want 3", notifier.count())
	}
	for i, call := range notifier.calls {
		if call.CurrentCount != i+1 {
			t.Fatalf("notification %d carried occurrence %d", i, call.CurrentCount)
		}
	}

	if _, err := svc.Edit(ctx, rec.ID, followUpInput(clock.Now().Add(time.Hour))); !errors.Is(err, reminder.ErrTerminalRecord) {
		t.Fatalf("Edit sent reminder err = %v, want ErrTerminalRecord", err)
	}
}

func TestServiceDeliveryFailureKeepsFiring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	svc, _ := newService(t, repository.NewMemoryStore(), notifier)

	in := followUpInput(start)
	in.Recurring = false
	rec, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rep, err := svc.ProcessDue(ctx, start)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if rep.Fired != 1 || rep.Completed != 1 || len(rep.Failures) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	var derr *reminder.DeliveryError
	if !errors.As(rep.Failures[0], &derr) || derr.ReminderID != rec.ID || derr.Occurrence != 1 {
		t.Fatalf("failure = %v, want DeliveryError for %s", rep.Failures[0], rec.ID)
	}

	got, _ := svc.Get(ctx, rec.ID)
	if !got.Sent {
		t.Fatalf("firing rolled back after delivery failure")
	}
	rep, _ = svc.ProcessDue(ctx, start.Add(time.Hour))
	if rep.Fired != 0 || notifier.count() != 1 {
		t.Fatalf("failed delivery was retried: %+v", rep)
	}
}

func TestServiceConflictSkipsNotification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc, _ := newService(t, conflictStore{mem}, notifier)

	if _, err := svc.Create(ctx, followUpInput(start)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rep, err := svc.ProcessDue(ctx, start)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if rep.Conflicts != 1 || rep.Fired != 0 || len(rep.Failures) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if notifier.count() != 0 {
		t.Fatalf("notified for a firing this worker did not commit")
	}
}

func TestServiceConcurrentWorkersFireOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc, _ := newService(t, st, notifier)
	if _, err := svc.Create(ctx, followUpInput(start)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := reminder.NewService(st, notifier)
			_, _ = worker.ProcessDue(ctx, start)
		}()
	}
	wg.Wait()

	if notifier.count() != 1 {
		t.Fatalf("notified %d times, want exactly 1", notifier.count())
	}
}

func TestServiceBacklogAdvancesOneIntervalPerPass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, _ := newService(t, repository.NewMemoryStore(), notifier)

	in := followUpInput(start)
	in.RecursionLimit = 0
	rec, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	late := start.AddDate(0, 0, 15)
	rep, _ := svc.ProcessDue(ctx, late)
	if rep.Fired != 1 || rep.Backlogged != 1 {
		t.Fatalf("first pass = %+v, want one backlogged firing", rep)
	}
	rep, _ = svc.ProcessDue(ctx, late)
	if rep.Fired != 1 || rep.Backlogged != 1 {
		t.Fatalf("second pass = %+v", rep)
	}
	rep, _ = svc.ProcessDue(ctx, late)
	if rep.Fired != 1 || rep.Backlogged != 0 {
		t.Fatalf("third pass = %+v", rep)
	}

	got, _ := svc.Get(ctx, rec.ID)
	if want := start.AddDate(0, 0, 21); !got.TriggerTime.Equal(want) {
		t.Fatalf("trigger = %v, want %v", got.TriggerTime, want)
	}
}

func TestServiceEditConflictAndOverdue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := repository.NewMemoryStore()
	svc, clock := newService(t, st, &recordingNotifier{})

	rec, err := svc.Create(ctx, followUpInput(start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale, _ := st.Load(ctx, rec.ID)
	if _, err := svc.Edit(ctx, rec.ID, followUpInput(start.Add(2*time.Hour))); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	stale.Message = "stale write"
	if err := st.Save(ctx, stale); !errors.Is(err, reminder.ErrConflict) {
		t.Fatalf("stale save err = %v, want ErrConflict", err)
	}

	clock.Set(start.Add(3 * time.Hour))
	overdue, err := svc.Overdue(ctx, clock.Now())
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != rec.ID {
		t.Fatalf("overdue = %+v", overdue)
	}

	next, err := svc.Upcoming(ctx, rec.ID, 5)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(next) != 3 {
		t.Fatalf("upcoming = %v, want 3 occurrences", next)
	}

	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, rec.ID); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
}

func TestServiceOneTimeFiresOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, clock := newService(t, repository.NewMemoryStore(), notifier)

	in := followUpInput(start.Add(time.Hour))
	in.Recurring = false
	in.RepeatDays = 0
	in.RecursionLimit = 0
	rec, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Set(start.Add(90 * time.Minute))
	rep, err := svc.ProcessDue(ctx, clock.Now())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if rep.Fired != 1 || rep.Completed != 1 || notifier.count() != 1 {
		t.Fatalf("report = %+v, notifications = %d, want one completed firing", rep, notifier.count())
	}
	got, _ := svc.Get(ctx, rec.ID)
	if got.CurrentCount != 1 || !got.Sent {
		t.Fatalf("record = %+v, want count 1 and sent", got)
	}

	clock.Set(start.Add(48 * time.Hour))
	rep, err = svc.ProcessDue(ctx, clock.Now())
	if err != nil {
		t.Fatalf("second ProcessDue: %v", err)
	}
	if rep.Fired != 0 || notifier.count() != 1 {
		t.Fatalf("second pass report = %+v, notifications = %d, want nothing", rep, notifier.count())
	}
}

func TestServiceEditBetweenPasses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("switch to one-time", func(t *testing.T) {
		t.Parallel()
		notifier := &recordingNotifier{}
		svc, clock := newService(t, repository.NewMemoryStore(), notifier)
		rec, err := svc.Create(ctx, followUpInput(start.Add(time.Hour)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		clock.Set(start.Add(time.Hour))
		if _, err := svc.ProcessDue(ctx, clock.Now()); err != nil {
			t.Fatalf("ProcessDue: %v", err)
		}

		in := followUpInput(start.Add(2 * time.Hour))
		in.Recurring = false
		if _, err := svc.Edit(ctx, rec.ID, in); err != nil {
			t.Fatalf("Edit: %v", err)
		}

		clock.Set(start.Add(2 * time.Hour))
		rep, err := svc.ProcessDue(ctx, clock.Now())
		if err != nil {
			t.Fatalf("ProcessDue after edit: %v", err)
		}
		if rep.Fired != 1 || rep.Completed != 1 {
			t.Fatalf("report = %+v, want the one-time firing to complete", rep)
		}
		got, _ := svc.Get(ctx, rec.ID)
		if !got.Sent || got.CurrentCount != 2 {
			t.Fatalf("record = %+v, want sent after 2 firings", got)
		}

		clock.Set(start.AddDate(0, 0, 30))
		if rep, _ := svc.ProcessDue(ctx, clock.Now()); rep.Fired != 0 {
			t.Fatalf("edited reminder kept firing: %+v", rep)
		}
		if notifier.count() != 2 {
			t.Fatalf("notifications = %d, want 2", notifier.count())
		}
	})

	t.Run("move trigger later", func(t *testing.T) {
		t.Parallel()
		notifier := &recordingNotifier{}
		svc, clock := newService(t, repository.NewMemoryStore(), notifier)
		rec, err := svc.Create(ctx, followUpInput(start.Add(time.Hour)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		clock.Set(start.Add(time.Hour))
		if _, err := svc.ProcessDue(ctx, clock.Now()); err != nil {
			t.Fatalf("ProcessDue: %v", err)
		}

		moved := start.AddDate(0, 0, 10)
		if _, err := svc.Edit(ctx, rec.ID, followUpInput(moved)); err != nil {
			t.Fatalf("Edit: %v", err)
		}

		// The old schedule would have fired here.
		clock.Set(start.Add(time.Hour).AddDate(0, 0, 7))
		if rep, _ := svc.ProcessDue(ctx, clock.Now()); rep.Fired != 0 {
			t.Fatalf("fired on the old schedule: %+v", rep)
		}

		clock.Set(moved)
		rep, err := svc.ProcessDue(ctx, clock.Now())
		if err != nil {
			t.Fatalf("ProcessDue at moved trigger: %v", err)
		}
		if rep.Fired != 1 || notifier.count() != 2 {
			t.Fatalf("report = %+v, notifications = %d", rep, notifier.count())
		}
		if got := notifier.calls[1]; got.CurrentCount != 2 || !got.TriggerTime.Equal(moved.AddDate(0, 0, 7)) {
			t.Fatalf("second firing = %+v", got)
		}
	})
}

func TestServiceEditUnknownReminder(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, repository.NewMemoryStore(), &recordingNotifier{})
	if _, err := svc.Edit(context.Background(), "missing", followUpInput(start.Add(time.Hour))); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServiceReportsUnfireableRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	done := &models.Reminder{
		ID:           "rem-done",
		Message:      "Already sent",
		TriggerTime:  start,
		CurrentCount: 1,
		Sent:         true,
		Version:      2,
	}
	notifier := &recordingNotifier{}
	svc, _ := newService(t, leakyStore{MemoryStore: repository.NewMemoryStore(), sent: done}, notifier)

	rep, err := svc.ProcessDue(ctx, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if rep.Fired != 0 || notifier.count() != 0 {
		t.Fatalf("report = %+v, notifications = %d, want nothing fired", rep, notifier.count())
	}
	if len(rep.Failures) != 1 || !errors.Is(rep.Failures[0], reminder.ErrTerminalRecord) {
		t.Fatalf("failures = %v, want one ErrTerminalRecord", rep.Failures)
	}
}

func TestServiceSQLiteWeeklyKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ctx := context.Background()
	st, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "reminders.db"), time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	notifier := &recordingNotifier{}
	svc, clock := newService(t, st, notifier, reminder.WithLocation(ny))
	first := time.Date(2024, 3, 6, 9, 0, 0, 0, ny)
	in := followUpInput(first)
	in.RecursionLimit = 0
	rec, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, want := range []time.Time{
		time.Date(2024, 3, 13, 9, 0, 0, 0, ny),
		time.Date(2024, 3, 20, 9, 0, 0, 0, ny),
	} {
		clock.Set(want.AddDate(0, 0, -7))
		if _, err := svc.ProcessDue(ctx, clock.Now()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		got, err := svc.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.TriggerTime.Equal(want) {
			t.Fatalf("pass %d trigger = %v, want %v", i, got.TriggerTime.In(ny), want)
		}
		if got.LastTriggerTime == nil || !got.LastTriggerTime.Equal(want.AddDate(0, 0, -7)) {
			t.Fatalf("pass %d last trigger = %v", i, got.LastTriggerTime)
		}
	}
	if notifier.count() != 2 {
		t.Fatalf("notifications = %d, want 2", notifier.count())
	}
}
