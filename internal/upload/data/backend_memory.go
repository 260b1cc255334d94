package data

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
)

var (
	ErrNoSuchSession = errors.New("no such upload session")
	ErrPartMismatch  = errors.New("part checksum mismatch")
)

type mpu struct {
	name  string
	parts map[int][]byte
}

// MemoryBackend 进程内的 multipart 存储，合并后的对象保存在内存中
type MemoryBackend struct {
	mu        sync.Mutex
	sessions  map[string]*mpu
	objects   map[string][]byte
	// 已完成的会话，重复 Finalize 视为成功
	completed map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions:  make(map[string]*mpu),
		objects:   make(map[string][]byte),
		completed: make(map[string]string),
	}
}

func (b *MemoryBackend) BeginSession(_ context.Context, name string) (string, error) {
	id := uuid.New()
	sessionID := hex.EncodeToString(id[:])

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = &mpu{name: name, parts: make(map[int][]byte)}
	return sessionID, nil
}

func (b *MemoryBackend) UploadPart(_ context.Context, name, sessionID string, partNumber int, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.session(name, sessionID)
	if err != nil {
		return "", err
	}
	m.parts[partNumber] = bytes.Clone(data)
	return etag(data), nil
}

func (b *MemoryBackend) Finalize(_ context.Context, name, sessionID string, parts []biz.Part) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if done, ok := b.completed[sessionID]; ok && done == name {
		return nil
	}
	m, err := b.session(name, sessionID)
	if err != nil {
		return err
	}

	sorted := append([]biz.Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var buf bytes.Buffer
	for _, p := range sorted {
		data, ok := m.parts[p.PartNumber]
		if !ok {
			return fmt.Errorf("%w: part %d not uploaded", ErrPartMismatch, p.PartNumber)
		}
		if etag(data) != p.ChecksumTag {
			return fmt.Errorf("%w: part %d", ErrPartMismatch, p.PartNumber)
		}
		buf.Write(data)
	}

	b.objects[name] = buf.Bytes()
	delete(b.sessions, sessionID)
	b.completed[sessionID] = name
	return nil
}

func (b *MemoryBackend) Abort(_ context.Context, _ string, sessionID string) error {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	return nil
}

// Object returns the finalized content of name.
func (b *MemoryBackend) Object(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	return data, ok
}

// HasSession reports whether sessionID is still open.
func (b *MemoryBackend) HasSession(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sessionID]
	return ok
}

func (b *MemoryBackend) session(name, sessionID string) (*mpu, error) {
	m, ok := b.sessions[sessionID]
	if !ok || m.name != name {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchSession, sessionID)
	}
	return m, nil
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
