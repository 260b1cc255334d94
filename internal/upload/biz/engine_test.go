package biz

import (
	"context"
	"testing"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/upload/fsm"
	"github.com/lk2023060901/resumable-upload/internal/upload/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() (*Engine, *fakeLedger, *fakeBackend) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	return NewEngine(fsm.UploadTable, ledger, backend, 0, logger.NewNop()), ledger, backend
}

func TestEngineApply_Rejects(t *testing.T) {
	e, ledger, _ := newTestEngine()
	ctx := context.Background()
	rec := NewUploadRecord("a.bin", 10, "h", "s", 5)

	tests := []types.State{types.StateReceived, types.StateMerged, types.StateIdle, types.State("bogus")}
	for _, action := range tests {
		t.Run(action.String(), func(t *testing.T) {
			_, err := e.Apply(ctx, rec, action, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, types.StateIdle, te.From)
			assert.Equal(t, action, te.To)
		})
	}
	assert.Zero(t, ledger.sets)
}

func TestEngineApply_ReceivingProbeIsNoop(t *testing.T) {
	e, ledger, backend := newTestEngine()
	rec := NewUploadRecord("a.bin", 10, "h", "s", 5)

	out, err := e.Apply(context.Background(), rec, types.StateReceiving, nil)
	require.NoError(t, err)
	assert.Same(t, rec, out.Record)
	assert.Equal(t, types.StateIdle, out.Record.State)
	assert.False(t, out.Abandoned)
	assert.Zero(t, ledger.sets)
	assert.Empty(t, backend.uploaded("s"))
}

func TestEngineApply_DoesNotMutateInput(t *testing.T) {
	e, ledger, _ := newTestEngine()
	rec := NewUploadRecord("a.bin", 10, "h", "s", 5)

	out, err := e.Apply(context.Background(), rec, types.StateReceiving, []byte("12345"))
	require.NoError(t, err)

	assert.Equal(t, types.StateIdle, rec.State)
	assert.Empty(t, rec.Parts)
	assert.Equal(t, types.StateReceiving, out.Record.State)
	assert.Equal(t, []Part{{PartNumber: 1, ChecksumTag: "etag-1-5"}}, out.Record.Parts)

	stored, ok := ledger.stored(rec.Identity)
	require.True(t, ok)
	assert.Equal(t, out.Record.Parts, stored.Parts)
}

func TestEngineApply_PartUploadFailureAbandons(t *testing.T) {
	e, ledger, backend := newTestEngine()
	backend.failUploads = 1
	rec := NewUploadRecord("a.bin", 10, "h", "s", 5)

	out, err := e.Apply(context.Background(), rec, types.StateReceiving, []byte("12345"))
	require.NoError(t, err)
	assert.True(t, out.Abandoned)
	assert.ErrorIs(t, out.Cause, ErrBackend)
	assert.ErrorIs(t, out.Cause, errInjected)
	assert.Same(t, rec, out.Record)
	assert.Zero(t, ledger.sets)
}

func TestEngineApply_ReceivedRoutesBackToIdle(t *testing.T) {
	e, _, _ := newTestEngine()
	rec := NewUploadRecord("a.bin", 10, "h", "s", 5)
	rec.State = types.StateReceiving
	rec.Parts = append(rec.Parts, Part{PartNumber: 1, ChecksumTag: "t1"})

	out, err := e.Apply(context.Background(), rec, types.StateReceived, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateIdle, out.Record.State)
	assert.Nil(t, out.Cause)

	rec.Parts = append(rec.Parts, Part{PartNumber: 2, ChecksumTag: "t2"})
	out, err = e.Apply(context.Background(), rec, types.StateReceived, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateReceived, out.Record.State)
}

func TestEngineApply_FinalizeFailureAbsorbed(t *testing.T) {
	e, ledger, backend := newTestEngine()
	backend.failFinal = 1
	rec := NewUploadRecord("a.bin", 5, "h", "s", 5)
	rec.State = types.StateReceived
	rec.Parts = append(rec.Parts, Part{PartNumber: 1, ChecksumTag: "t1"})

	out, err := e.Apply(context.Background(), rec, types.StateMerged, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateMergeFailure, out.Record.State)
	assert.ErrorIs(t, out.Cause, ErrBackend)

	stored, _ := ledger.stored(rec.Identity)
	assert.Equal(t, types.StateMergeFailure, stored.State)

	out, err = e.Apply(context.Background(), out.Record, types.StateMerged, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateMerged, out.Record.State)
	assert.Equal(t, rec.Parts, backend.finalized["s"])
}

func TestEngineApply_MarkersAndLedgerFailure(t *testing.T) {
	e, ledger, _ := newTestEngine()
	rec := NewUploadRecord("a.bin", 10, "h", "s", 5)
	rec.State = types.StateReceiving

	out, err := e.Apply(context.Background(), rec, types.StateReceiveFailure, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateReceiveFailure, out.Record.State)

	ledger.failSet = true
	_, err = e.Apply(context.Background(), out.Record, types.StateReceiving, []byte("x"))
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, errInjected)
}
