package cost

import (
	"context"
	"sync"

	"github.com/pysugar/universal-ai-router/internal/db/models"
)

// UsageStore is the append-only ledger behind the tracker.
type UsageStore interface {
	Append(ctx context.Context, rec models.UsageRecord) error
	Aggregate(ctx context.Context, q models.UsageQuery) (models.UsageStats, error)
}

// MemoryStore keeps records in process memory. It backs storage.driver=memory
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.UsageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec models.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, q models.UsageQuery) (models.UsageStats, error) {
	if err := ctx.Err(); err != nil {
		return models.UsageStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.UsageStats
	for _, r := range s.records {
		if r.Timestamp < q.SinceMillis {
			continue
		}
		if q.CallerID != "" && r.CallerID != q.CallerID {
			continue
		}
		if q.Provider != "" && r.Provider != q.Provider {
			continue
		}
		stats.TotalCost += r.EstimatedCost
		stats.TotalTokens += int64(r.TotalTokens)
		stats.RequestCount++
	}
	return stats, nil
}

// Records returns a copy of everything appended so far.
func (s *MemoryStore) Records() []models.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}
