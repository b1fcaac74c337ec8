package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/reminder"
)

// MemoryStore keeps reminders in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*models.Reminder
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*models.Reminder)}
}

func (s *MemoryStore) Insert(ctx context.Context, rec *models.Reminder) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return fmt.Errorf("reminder %s already exists", rec.ID)
	}
	rec.Version = 1
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*models.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, reminder.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *models.Reminder) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[rec.ID]
	if !ok {
		return reminder.ErrNotFound
	}
	if cur.Version != rec.Version {
		return reminder.ErrConflict
	}
	rec.Version++
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, rec := range s.recs {
		if !rec.Sent && !rec.TriggerTime.After(now) {
			out = append(out, rec.Clone())
		}
	}
	sortByTrigger(out)
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context, f reminder.Filter) ([]*models.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, rec := range s.recs {
		if matches(rec, f) {
			out = append(out, rec.Clone())
		}
	}
	sortByTrigger(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return reminder.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func matches(rec *models.Reminder, f reminder.Filter) bool {
	if rec.Sent && !f.IncludeSent {
		return false
	}
	if f.OwnerID != "" && rec.OwnerID != f.OwnerID {
		return false
	}
	if f.RelatedModule != "" && rec.RelatedModule != f.RelatedModule {
		return false
	}
	if f.ReferenceID != "" && rec.ReferenceID != f.ReferenceID {
		return false
	}
	return true
}

func sortByTrigger(recs []*models.Reminder) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].TriggerTime.Equal(recs[j].TriggerTime) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].TriggerTime.Before(recs[j].TriggerTime)
	})
}
