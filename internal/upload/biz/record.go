package biz

import (
	"fmt"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/upload/types"
)

// DefaultChunkSize is the smallest part size S3-compatible stores accept for
// every part but the last one.
const DefaultChunkSize int64 = 5 * 1024 * 1024

// Part is one ingested chunk as acknowledged by the storage backend.
type Part struct {
	PartNumber  int    `json:"part_number"`
	ChecksumTag string `json:"checksum_tag"`
}

// UploadRecord 一次逻辑上传的持久化记录
type UploadRecord struct {
	Identity    string      `json:"identity"`
	Name        string      `json:"name"`
	Size        int64       `json:"size"`
	ContentHash string      `json:"content_hash"`
	SessionID   string      `json:"backend_session_id"`
	ChunkSize   int64       `json:"chunk_size"`
	TotalChunks int         `json:"total_chunks"`
	Parts       []Part      `json:"parts"`
	State       types.State `json:"state"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// GenIdentity derives the record key from the file identity. The same file
// always maps to the same record.
func GenIdentity(name string, size int64, contentHash string) string {
	return fmt.Sprintf("%s,%d,%s", name, size, contentHash)
}

// TotalChunks returns ceil(size / chunkSize).
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// NewUploadRecord 创建处于 idle 状态的新记录
func NewUploadRecord(name string, size int64, contentHash, sessionID string, chunkSize int64) *UploadRecord {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := TotalChunks(size, chunkSize)
	now := time.Now()
	return &UploadRecord{
		Identity:    GenIdentity(name, size, contentHash),
		Name:        name,
		Size:        size,
		ContentHash: contentHash,
		SessionID:   sessionID,
		ChunkSize:   chunkSize,
		TotalChunks: total,
		Parts:       make([]Part, 0, total),
		State:       types.StateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsReceived reports whether every chunk has been ingested.
func (r *UploadRecord) IsReceived() bool {
	return len(r.Parts) == r.TotalChunks
}

// NextPartNumber is computed from the manifest at call time, never cached.
func (r *UploadRecord) NextPartNumber() int {
	return len(r.Parts) + 1
}

// Clone returns a deep copy that shares no slices with r.
func (r *UploadRecord) Clone() *UploadRecord {
	c := *r
	c.Parts = make([]Part, len(r.Parts), max(len(r.Parts), r.TotalChunks))
	copy(c.Parts, r.Parts)
	return &c
}
