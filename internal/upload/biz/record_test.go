package biz

import (
	"testing"

	"github.com/lk2023060901/resumable-upload/internal/upload/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		size, chunk int64
		want        int
	}{
		{12_000_000, 5_000_000, 3},
		{10_000_000, 5_000_000, 2},
		{1, 5_000_000, 1},
		{0, 5_000_000, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunks(tt.size, tt.chunk), "size=%d chunk=%d", tt.size, tt.chunk)
	}
}

func TestNewUploadRecord(t *testing.T) {
	a := NewUploadRecord("a.bin", 12_000_000, "h", "s1", 5_000_000)
	b := NewUploadRecord("b.bin", 12_000_000, "h", "s2", 0)

	assert.Equal(t, "a.bin,12000000,h", a.Identity)
	assert.Equal(t, types.StateIdle, a.State)
	assert.Equal(t, 3, a.TotalChunks)
	assert.Equal(t, DefaultChunkSize, b.ChunkSize)
	assert.Equal(t, 3, b.TotalChunks)
	assert.False(t, a.IsReceived())
	assert.Equal(t, 1, a.NextPartNumber())

	// parts are never shared between records
	a.Parts = append(a.Parts, Part{PartNumber: 1, ChecksumTag: "x"})
	assert.Empty(t, b.Parts)
}

func TestClone(t *testing.T) {
	rec := NewUploadRecord("a.bin", 12_000_000, "h", "s1", 5_000_000)
	rec.Parts = append(rec.Parts, Part{PartNumber: 1, ChecksumTag: "x"})

	c := rec.Clone()
	require.Equal(t, rec, c)

	c.Parts[0].ChecksumTag = "changed"
	c.Parts = append(c.Parts, Part{PartNumber: 2})
	c.State = types.StateReceiving

	assert.Equal(t, "x", rec.Parts[0].ChecksumTag)
	assert.Len(t, rec.Parts, 1)
	assert.Equal(t, types.StateIdle, rec.State)
}

func TestZeroSizeRecordIsReceived(t *testing.T) {
	rec := NewUploadRecord("empty", 0, "h", "s", 5_000_000)
	assert.Equal(t, 0, rec.TotalChunks)
	assert.True(t, rec.IsReceived())
}
