package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/delivery-pipeline/internal/message"
)

// MemoryStore keeps records in process memory. Values are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]message.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]message.Record)}
}

func (s *MemoryStore) Save(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[msg.ID]; ok {
		return message.ErrConflict
	}
	s.records[msg.ID] = msg.Record()
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, message.ErrNotFound
	}
	return message.FromRecord(r), nil
}

func (s *MemoryStore) Update(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[msg.ID]; !ok {
		return message.ErrNotFound
	}
	s.records[msg.ID] = msg.Record()
	return nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status message.Status, limit int) ([]*message.Message, error) {
	return s.filter(normalizeLimit(limit), func(r message.Record) bool {
		return r.Status == status
	}), nil
}

func (s *MemoryStore) FindByCorrelation(_ context.Context, ref message.CorrelationRef) ([]*message.Message, error) {
	if ref.Empty() {
		return nil, nil
	}
	return s.filter(0, func(r message.Record) bool {
		if ref.LeadID != "" && r.Correlation.LeadID != ref.LeadID {
			return false
		}
		if ref.CampaignID != "" && r.Correlation.CampaignID != ref.CampaignID {
			return false
		}
		return true
	}), nil
}

func (s *MemoryStore) FindByProviderMessageID(_ context.Context, providerMessageID string) (*message.Message, error) {
	if providerMessageID == "" {
		return nil, message.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ProviderMessageID == providerMessageID {
			return message.FromRecord(r), nil
		}
	}
	return nil, message.ErrNotFound
}

func (s *MemoryStore) FindStranded(_ context.Context, before time.Time, limit int) ([]*message.Message, error) {
	return s.filter(normalizeLimit(limit), func(r message.Record) bool {
		if !r.UpdatedAt.Before(before) {
			return false
		}
		switch r.Status {
		case message.StatusPending:
			return true
		case message.StatusFailed:
			return r.RetryCount < message.MaxRetries
		}
		return false
	}), nil
}

// filter returns matches oldest first; limit 0 means no limit.
func (s *MemoryStore) filter(limit int, keep func(message.Record) bool) []*message.Message {
	s.mu.RLock()
	matched := make([]message.Record, 0)
	for _, r := range s.records {
		if keep(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*message.Message, 0, len(matched))
	for _, r := range matched {
		out = append(out, message.FromRecord(r))
	}
	return out
}
