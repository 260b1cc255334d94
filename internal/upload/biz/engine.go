package biz

import (
	"context"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/upload/fsm"
	"github.com/lk2023060901/resumable-upload/internal/upload/types"
	"go.uber.org/zap"
)

// Outcome describes one applied (or abandoned) transition.
type Outcome struct {
	Record *UploadRecord
	From   types.State
	Action types.State

	// Abandoned is set when a side effect failed and the record was left in
	// its prior state. Cause holds the failure.
	Abandoned bool
	// Cause is also set when a failure was absorbed into a failure state.
	Cause error
}

// transitionHandler mutates next (a private copy of the record) and reports
// whether it must be persisted.
type transitionHandler func(ctx context.Context, next *UploadRecord, payload []byte, out *Outcome) bool

// Engine validates requested transitions against the table, runs their side
// effects and persists the result.
type Engine struct {
	table          *fsm.Table
	ledger         Ledger
	backend        StorageBackend
	backendTimeout time.Duration
	logger         *logger.Logger

	handlers map[types.State]transitionHandler
}

// NewEngine 创建状态机引擎
func NewEngine(table *fsm.Table, ledger Ledger, backend StorageBackend, backendTimeout time.Duration, log *logger.Logger) *Engine {
	e := &Engine{
		table:          table,
		ledger:         ledger,
		backend:        backend,
		backendTimeout: backendTimeout,
		logger:         log.Named("fsm"),
	}
	e.handlers = map[types.State]transitionHandler{
		types.StateIdle:           e.toMarker(types.StateIdle),
		types.StateReceiving:      e.toReceiving,
		types.StateReceived:       e.toReceived,
		types.StateReceiveFailure: e.toMarker(types.StateReceiveFailure),
		types.StateMerged:         e.toMerged,
		types.StateMergeFailure:   e.toMarker(types.StateMergeFailure),
	}
	return e
}

// Apply runs action against rec. rec itself is never modified: on success the
// returned outcome carries a new record that has already been persisted.
func (e *Engine) Apply(ctx context.Context, rec *UploadRecord, action types.State, payload []byte) (*Outcome, error) {
	return e.apply(ctx, rec, action, payload, false)
}

// apply is Apply; rerouting marks a planned self-correction that the caller
// follows with a receiving step, counted apart from genuine ones.
func (e *Engine) apply(ctx context.Context, rec *UploadRecord, action types.State, payload []byte, rerouting bool) (*Outcome, error) {
	from := rec.State
	handler, known := e.handlers[action]
	if !known || !e.table.Allowed(from, action) {
		transitionsTotal.WithLabelValues(from.String(), action.String(), resultRejected).Inc()
		return nil, &TransitionError{From: from, To: action}
	}

	out := &Outcome{Record: rec, From: from, Action: action}
	next := rec.Clone()
	if !handler(ctx, next, payload, out) {
		result := resultNoop
		if out.Abandoned {
			result = resultAbandoned
		}
		transitionsTotal.WithLabelValues(from.String(), action.String(), result).Inc()
		return out, nil
	}

	next.UpdatedAt = time.Now()
	if err := e.ledger.Set(ctx, next.Identity, next); err != nil {
		transitionsTotal.WithLabelValues(from.String(), action.String(), resultFailed).Inc()
		e.logger.WithContext(ctx).Error("failed to persist upload record",
			zap.String("identity", next.Identity),
			zap.String("from", from.String()),
			zap.String("action", action.String()),
			zap.Error(err))
		return nil, operationFailed("ledger set", err)
	}

	out.Record = next
	result := resultApplied
	switch {
	case out.Cause != nil:
		result = resultAbsorbed
	case next.State != action && rerouting:
		result = resultRerouted
	case next.State != action:
		result = resultSelfCorrected
	}
	transitionsTotal.WithLabelValues(from.String(), action.String(), result).Inc()
	return out, nil
}

func (e *Engine) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.backendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.backendTimeout)
}

func (e *Engine) toMarker(state types.State) transitionHandler {
	return func(_ context.Context, next *UploadRecord, _ []byte, _ *Outcome) bool {
		next.State = state
		return true
	}
}

// toReceiving ingests one chunk. An empty payload only probes the state,
// unless there is nothing left to receive.
func (e *Engine) toReceiving(ctx context.Context, next *UploadRecord, payload []byte, out *Outcome) bool {
	if len(payload) == 0 && !next.IsReceived() {
		return false
	}

	if len(payload) > 0 && !next.IsReceived() {
		partNumber := next.NextPartNumber()

		bctx, cancel := e.backendContext(ctx)
		tag, err := e.backend.UploadPart(bctx, next.Name, next.SessionID, partNumber, payload)
		cancel()
		if err != nil {
			out.Abandoned = true
			out.Cause = backendError("upload part", err)
			e.logger.WithContext(ctx).Warn("chunk upload failed, transition abandoned",
				zap.String("identity", next.Identity),
				zap.Int("part_number", partNumber),
				zap.Error(err))
			return false
		}

		next.Parts = append(next.Parts, Part{PartNumber: partNumber, ChecksumTag: tag})
		e.logger.WithContext(ctx).Debug("chunk ingested",
			zap.String("identity", next.Identity),
			zap.Int("part_number", partNumber),
			zap.Int("total_chunks", next.TotalChunks),
			zap.Int("size", len(payload)))
	}

	next.State = types.StateReceiving
	return true
}

// toReceived routes back to idle instead of failing when chunks are missing.
func (e *Engine) toReceived(ctx context.Context, next *UploadRecord, _ []byte, _ *Outcome) bool {
	if next.IsReceived() {
		next.State = types.StateReceived
		return true
	}

	e.logger.WithContext(ctx).Info("upload not fully received, routing back to idle",
		zap.String("identity", next.Identity),
		zap.Int("parts", len(next.Parts)),
		zap.Int("total_chunks", next.TotalChunks),
		zap.NamedError("reason", ErrIncompleteUpload))
	if e.table.Allowed(next.State, types.StateIdle) {
		next.State = types.StateIdle
	}
	return true
}

// toMerged finalizes the backend session. A failed finalize is absorbed into
// merge_failure so the next drive retries it.
func (e *Engine) toMerged(ctx context.Context, next *UploadRecord, _ []byte, out *Outcome) bool {
	parts := make([]Part, len(next.Parts))
	copy(parts, next.Parts)

	bctx, cancel := e.backendContext(ctx)
	err := e.backend.Finalize(bctx, next.Name, next.SessionID, parts)
	cancel()
	if err != nil {
		out.Cause = backendError("finalize", err)
		e.logger.WithContext(ctx).Warn("finalize failed, moving to merge_failure",
			zap.String("identity", next.Identity),
			zap.String("session_id", next.SessionID),
			zap.Error(err))
		next.State = types.StateMergeFailure
		return true
	}

	e.logger.WithContext(ctx).Info("upload merged",
		zap.String("identity", next.Identity),
		zap.String("name", next.Name),
		zap.Int("parts", len(parts)))
	next.State = types.StateMerged
	return true
}
