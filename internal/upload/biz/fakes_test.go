package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var errInjected = errors.New("injected failure")

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]*UploadRecord

	failGet bool
	failSet bool
	sets    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*UploadRecord{}}
}

func (l *fakeLedger) Get(_ context.Context, key string) (*UploadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failGet {
		return nil, errInjected
	}
	rec, ok := l.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (l *fakeLedger) Set(_ context.Context, key string, rec *UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSet {
		return errInjected
	}
	l.sets++
	l.records[key] = rec.Clone()
	return nil
}

func (l *fakeLedger) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
	return nil
}

func (l *fakeLedger) stored(key string) (*UploadRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return rec, ok
}

type fakeBackend struct {
	mu       sync.Mutex
	sessions int
	uploads  map[string][]int // session -> uploaded part numbers, in call order
	aborted  []string

	finalized   map[string][]Part
	failUploads int
	failFinal   int
	failBegin   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		uploads:   map[string][]int{},
		finalized: map[string][]Part{},
	}
}

func (b *fakeBackend) BeginSession(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failBegin {
		return "", errInjected
	}
	b.sessions++
	return fmt.Sprintf("session-%d", b.sessions), nil
}

func (b *fakeBackend) UploadPart(_ context.Context, _, sessionID string, partNumber int, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failUploads > 0 {
		b.failUploads--
		return "", errInjected
	}
	b.uploads[sessionID] = append(b.uploads[sessionID], partNumber)
	return fmt.Sprintf("etag-%d-%d", partNumber, len(data)), nil
}

func (b *fakeBackend) Finalize(_ context.Context, _, sessionID string, parts []Part) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFinal > 0 {
		b.failFinal--
		return errInjected
	}
	b.finalized[sessionID] = parts
	return nil
}

func (b *fakeBackend) Abort(_ context.Context, _, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = append(b.aborted, sessionID)
	return nil
}

func (b *fakeBackend) uploaded(sessionID string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.uploads[sessionID]...)
}

type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	fail  bool
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.fail {
		l.mu.Unlock()
		return nil, errInjected
	}
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

func (l *fakeLedger) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*UploadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failGet {
		return nil, errInjected
	}
	var out []*UploadRecord
	for _, rec := range l.records {
		if rec.UpdatedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// goPool runs every task on its own goroutine.
type goPool struct{ closed bool }

func (p goPool) Submit(task func()) error {
	if p.closed {
		return errInjected
	}
	go task()
	return nil
}
