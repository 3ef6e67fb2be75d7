package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/physician/pkg/models"
)

// MemoryStore keeps the ledger in process memory, bounded to maxRecords
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*models.VerificationRecord
	order      []string // insertion order, oldest first
	maxRecords int
}

// DefaultMemoryRecords bounds the in-memory ledger
const DefaultMemoryRecords = 10000

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*models.VerificationRecord),
		maxRecords: DefaultMemoryRecords,
	}
}

func (s *MemoryStore) SaveVerification(ctx context.Context, rec *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = &cp

	for len(s.order) > s.maxRecords {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) GetVerification(ctx context.Context, id string) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListVerifications(ctx context.Context, filter ListFilter) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.VerificationRecord
	for _, rec := range s.records {
		if filter.Verdict != "" && rec.Verdict != filter.Verdict {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	var totalMs int64
	for _, rec := range s.records {
		stats.Total++
		switch rec.Verdict {
		case models.VerdictGo:
			stats.Go++
		case models.VerdictBlocked:
			stats.Blocked++
		}
		if rec.IsCrash {
			stats.Crashes++
		}
		if rec.DangerousIntent {
			stats.DangerousIntent++
		}
		if rec.GovernorActive {
			stats.GovernorActive++
		}
		if rec.ForensicsDegraded {
			stats.ForensicsDegraded++
		}
		totalMs += rec.DurationMs
	}
	if stats.Total > 0 {
		stats.AvgDurationMs = float64(totalMs) / float64(stats.Total)
	}
	return stats, nil
}

func (s *MemoryStore) DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.order[:0]
	for _, id := range s.order {
		if s.records[id].CreatedAt.Before(cutoff) && (limit <= 0 || deleted < int64(limit)) {
			delete(s.records, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

func (s *MemoryStore) Close() error       { return nil }
func (s *MemoryStore) HealthCheck() error { return nil }
