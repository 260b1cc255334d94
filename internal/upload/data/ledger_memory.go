package data

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
)

// MemoryLedger keeps records in process. Records are stored encoded so that
// callers never share memory with the ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string][]byte)}
}

func (l *MemoryLedger) Get(_ context.Context, key string) (*biz.UploadRecord, error) {
	l.mu.RLock()
	raw, ok := l.records[key]
	l.mu.RUnlock()
	if !ok {
		return nil, biz.ErrRecordNotFound
	}

	var rec biz.UploadRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.Parts == nil {
		rec.Parts = make([]biz.Part, 0, rec.TotalChunks)
	}
	return &rec, nil
}

func (l *MemoryLedger) Set(_ context.Context, key string, rec *biz.UploadRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.records[key] = raw
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.records, key)
	l.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *MemoryLedger) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*biz.UploadRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stale []*biz.UploadRecord
	for _, raw := range l.records {
		var rec biz.UploadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		if rec.UpdatedAt.Before(cutoff) {
			stale = append(stale, &rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
