package data

import (
	"context"
	"testing"

	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendMetricsWrapper(t *testing.T) {
	ctx := context.Background()
	b := NewBackendMetricsWrapper(NewMemoryBackend(), "metrics-test")
	before := testutil.ToFloat64(backendPartBytes.WithLabelValues("metrics-test"))

	sessionID, err := b.BeginSession(ctx, "a.bin")
	require.NoError(t, err)
	tag, err := b.UploadPart(ctx, "a.bin", sessionID, 1, []byte("12345"))
	require.NoError(t, err)
	_, err = b.UploadPart(ctx, "a.bin", "missing", 2, []byte("678"))
	require.Error(t, err)

	require.NoError(t, b.Finalize(ctx, "a.bin", sessionID, []biz.Part{{PartNumber: 1, ChecksumTag: tag}}))
	require.NoError(t, b.Abort(ctx, "a.bin", sessionID))

	assert.Equal(t, before+5, testutil.ToFloat64(backendPartBytes.WithLabelValues("metrics-test")))
	assert.Zero(t, testutil.ToFloat64(backendConcurrentOps.WithLabelValues("metrics-test", "UploadPart")))

	obj, ok := b.Backend.(*MemoryBackend).Object("a.bin")
	require.True(t, ok)
	assert.Equal(t, "12345", string(obj))
}
