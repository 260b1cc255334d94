package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/upload/fsm"
	"github.com/lk2023060901/resumable-upload/internal/upload/types"
	"go.uber.org/zap"
)

// Ledger 上传记录持久化接口（按 identity 存取）
type Ledger interface {
	// Get returns ErrRecordNotFound when key is absent.
	Get(ctx context.Context, key string) (*UploadRecord, error)
	Set(ctx context.Context, key string, rec *UploadRecord) error
	// Delete succeeds when key is absent.
	Delete(ctx context.Context, key string) error
}

// StorageBackend 分片对象存储接口
type StorageBackend interface {
	BeginSession(ctx context.Context, name string) (string, error)
	UploadPart(ctx context.Context, name, sessionID string, partNumber int, data []byte) (string, error)
	Finalize(ctx context.Context, name, sessionID string, parts []Part) error
	Abort(ctx context.Context, name, sessionID string) error
}

// Locker serializes drive steps per identity.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// FileIdentity identifies one logical file as supplied by the caller.
type FileIdentity struct {
	Name        string
	Size        int64
	ContentHash string
}

// Validate 校验文件标识
func (f FileIdentity) Validate() error {
	switch {
	case strings.TrimSpace(f.Name) == "":
		return fmt.Errorf("%w: file name is required", ErrInvalidArgument)
	case f.Size < 0:
		return fmt.Errorf("%w: file size must be >= 0", ErrInvalidArgument)
	case strings.TrimSpace(f.ContentHash) == "":
		return fmt.Errorf("%w: file hash is required", ErrInvalidArgument)
	}
	return nil
}

// Identity returns the ledger key of the file.
func (f FileIdentity) Identity() string {
	return GenIdentity(f.Name, f.Size, f.ContentHash)
}

// DriveResult is what one external call reports back.
type DriveResult struct {
	State     types.State
	Message   string
	Record    *UploadRecord
	Completed bool
	Abandoned bool
}

// UploadOptions 上传用例配置
type UploadOptions struct {
	ChunkSize      int64
	BackendTimeout time.Duration
}

// UploadUseCase coordinates resumable uploads: it resolves records, plans the
// next transition toward merged and hands it to the engine.
type UploadUseCase struct {
	ledger    Ledger
	backend   StorageBackend
	locker    Locker
	engine    *Engine
	table     *fsm.Table
	chunkSize int64
	logger    *logger.Logger
}

// NewUploadUseCase 创建上传用例
func NewUploadUseCase(ledger Ledger, backend StorageBackend, locker Locker, opts UploadOptions, log *logger.Logger) *UploadUseCase {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	table := fsm.UploadTable
	return &UploadUseCase{
		ledger:    ledger,
		backend:   backend,
		locker:    locker,
		engine:    NewEngine(table, ledger, backend, opts.BackendTimeout, log),
		table:     table,
		chunkSize: opts.ChunkSize,
		logger:    log.Named("upload"),
	}
}

// Engine exposes the state machine engine used by the coordinator.
func (uc *UploadUseCase) Engine() *Engine {
	return uc.engine
}

// ResolveOrCreate loads the record for the file or, when none exists, opens
// a backend session and persists a fresh idle record.
func (uc *UploadUseCase) ResolveOrCreate(ctx context.Context, name string, size int64, contentHash string) (*UploadRecord, error) {
	file := FileIdentity{Name: name, Size: size, ContentHash: contentHash}
	if err := file.Validate(); err != nil {
		return nil, err
	}

	identity := file.Identity()
	rec, err := uc.ledger.Get(ctx, identity)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, operationFailed("ledger get", err)
	}

	// new request for file uploading, opens the multipart session
	bctx, cancel := uc.engine.backendContext(ctx)
	sessionID, err := uc.backend.BeginSession(bctx, name)
	cancel()
	if err != nil {
		return nil, operationFailed("begin session", backendError("begin session", err))
	}

	rec = NewUploadRecord(name, size, contentHash, sessionID, uc.chunkSize)
	if err := uc.ledger.Set(ctx, identity, rec); err != nil {
		uc.abortQuietly(ctx, rec)
		return nil, operationFailed("ledger set", err)
	}

	uc.logger.WithContext(ctx).Info("upload record created",
		zap.String("identity", identity),
		zap.String("session_id", sessionID),
		zap.Int64("size", size),
		zap.Int("total_chunks", rec.TotalChunks))
	return rec, nil
}

// Drive advances rec by one planned step toward merged. A payload is only
// consumed by a receiving transition.
func (uc *UploadUseCase) Drive(ctx context.Context, rec *UploadRecord, payload []byte) (*DriveResult, error) {
	current := rec.State
	action, ok := fsm.NextAction(uc.table, current, types.StateMerged)
	if !ok {
		return uc.complete(ctx, rec, payload)
	}

	uc.logger.WithContext(ctx).Debug("driving upload",
		zap.String("identity", rec.Identity),
		zap.String("current", current.String()),
		zap.String("action", action.String()),
		zap.Bool("has_chunk", len(payload) > 0))

	rerouting := len(payload) > 0 && action == types.StateReceived && !rec.IsReceived()
	out, err := uc.engine.apply(ctx, rec, action, payload, rerouting)
	if err != nil {
		return nil, err
	}
	steps := []*Outcome{out}

	// A chunk must not be lost to a bookkeeping step: when received
	// self-corrected to idle, re-plan once and ingest.
	if len(payload) > 0 && action != types.StateReceiving && !out.Abandoned && !out.Record.IsReceived() {
		if replanned, ok := fsm.NextAction(uc.table, out.Record.State, types.StateMerged); ok && replanned == types.StateReceiving {
			again, err := uc.engine.Apply(ctx, out.Record, replanned, payload)
			if err != nil {
				return nil, err
			}
			steps = append(steps, again)
		}
	}

	return uc.report(current, steps), nil
}

func (uc *UploadUseCase) complete(ctx context.Context, rec *UploadRecord, payload []byte) (*DriveResult, error) {
	if rec.State != types.StateMerged {
		return nil, operationFailed("plan", fmt.Errorf("%w: from %s", ErrUnreachableGoal, rec.State))
	}
	if len(payload) > 0 {
		transitionsTotal.WithLabelValues(rec.State.String(), types.StateReceiving.String(), resultRejected).Inc()
		return nil, &TransitionError{From: rec.State, To: types.StateReceiving}
	}

	if err := uc.ledger.Delete(ctx, rec.Identity); err != nil {
		return nil, operationFailed("ledger delete", err)
	}
	completionsTotal.Inc()

	msg := fmt.Sprintf("Current: %s, finish!", rec.State)
	uc.logger.WithContext(ctx).Info("upload finished, record purged",
		zap.String("identity", rec.Identity),
		zap.String("session_id", rec.SessionID))
	return &DriveResult{
		State:     rec.State,
		Message:   msg,
		Record:    rec,
		Completed: true,
	}, nil
}

func (uc *UploadUseCase) report(current types.State, steps []*Outcome) *DriveResult {
	actions := make([]string, len(steps))
	for i, s := range steps {
		actions[i] = "to_" + s.Action.String()
	}
	msg := fmt.Sprintf("Current: %s, try %s", current, strings.Join(actions, " -> "))

	last := steps[len(steps)-1]
	if last.Cause != nil {
		if last.Abandoned {
			msg += fmt.Sprintf("; %s abandoned: %v", "to_"+last.Action.String(), last.Cause)
		} else {
			msg += fmt.Sprintf("; %v", last.Cause)
		}
	}

	return &DriveResult{
		State:     last.Record.State,
		Message:   msg,
		Record:    last.Record,
		Abandoned: last.Abandoned,
	}
}

// Start resolves (or creates) the record for file under its identity lock.
func (uc *UploadUseCase) Start(ctx context.Context, file FileIdentity) (*UploadRecord, error) {
	var rec *UploadRecord
	err := uc.withLock(ctx, file, func() error {
		var err error
		rec, err = uc.ResolveOrCreate(ctx, file.Name, file.Size, file.ContentHash)
		return err
	})
	return rec, err
}

// UploadChunk drives the record of file with one chunk of data.
func (uc *UploadUseCase) UploadChunk(ctx context.Context, file FileIdentity, chunk []byte) (*DriveResult, error) {
	return uc.drive(ctx, file, chunk)
}

// Probe drives the record of file without data.
func (uc *UploadUseCase) Probe(ctx context.Context, file FileIdentity) (*DriveResult, error) {
	return uc.drive(ctx, file, nil)
}

func (uc *UploadUseCase) drive(ctx context.Context, file FileIdentity, payload []byte) (*DriveResult, error) {
	var res *DriveResult
	err := uc.withLock(ctx, file, func() error {
		rec, err := uc.ResolveOrCreate(ctx, file.Name, file.Size, file.ContentHash)
		if err != nil {
			return err
		}
		res, err = uc.Drive(ctx, rec, payload)
		return err
	})
	return res, err
}

// Transition applies an explicitly requested action, bypassing the planner.
func (uc *UploadUseCase) Transition(ctx context.Context, file FileIdentity, action string, payload []byte) (*DriveResult, error) {
	to, ok := types.ParseState(action)
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, action)
	}

	var res *DriveResult
	err := uc.withLock(ctx, file, func() error {
		rec, err := uc.ResolveOrCreate(ctx, file.Name, file.Size, file.ContentHash)
		if err != nil {
			return err
		}
		out, err := uc.engine.Apply(ctx, rec, to, payload)
		if err != nil {
			return err
		}
		res = uc.report(rec.State, []*Outcome{out})
		return nil
	})
	return res, err
}

// Progress returns the stored record of file without changing it.
func (uc *UploadUseCase) Progress(ctx context.Context, file FileIdentity) (*UploadRecord, error) {
	if err := file.Validate(); err != nil {
		return nil, err
	}
	rec, err := uc.ledger.Get(ctx, file.Identity())
	if errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, operationFailed("ledger get", err)
	}
	return rec, nil
}

// Cancel aborts the backend session of file and forgets its record. The next
// request for the same file starts from scratch.
func (uc *UploadUseCase) Cancel(ctx context.Context, file FileIdentity) error {
	if err := file.Validate(); err != nil {
		return err
	}
	return uc.withLock(ctx, file, func() error {
		rec, err := uc.ledger.Get(ctx, file.Identity())
		if errors.Is(err, ErrRecordNotFound) {
			return err
		}
		if err != nil {
			return operationFailed("ledger get", err)
		}

		if err := uc.discard(ctx, rec); err != nil {
			return err
		}
		uc.logger.WithContext(ctx).Info("upload cancelled",
			zap.String("identity", rec.Identity),
			zap.String("state", rec.State.String()))
		return nil
	})
}

// discard aborts the open backend session of rec, if any, and deletes rec.
// A merged record has no open session left.
func (uc *UploadUseCase) discard(ctx context.Context, rec *UploadRecord) error {
	if rec.State != types.StateMerged {
		bctx, cancel := uc.engine.backendContext(ctx)
		err := uc.backend.Abort(bctx, rec.Name, rec.SessionID)
		cancel()
		if err != nil {
			return operationFailed("abort session", backendError("abort", err))
		}
	}

	if err := uc.ledger.Delete(ctx, rec.Identity); err != nil {
		return operationFailed("ledger delete", err)
	}
	return nil
}

func (uc *UploadUseCase) withLock(ctx context.Context, file FileIdentity, fn func() error) error {
	if err := file.Validate(); err != nil {
		return err
	}
	unlock, err := uc.locker.Lock(ctx, file.Identity())
	if err != nil {
		return operationFailed("lock", err)
	}
	defer unlock()
	return fn()
}

func (uc *UploadUseCase) abortQuietly(ctx context.Context, rec *UploadRecord) {
	bctx, cancel := uc.engine.backendContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := uc.backend.Abort(bctx, rec.Name, rec.SessionID); err != nil {
		uc.logger.WithContext(ctx).Warn("failed to abort orphaned session",
			zap.String("identity", rec.Identity),
			zap.String("session_id", rec.SessionID),
			zap.Error(err))
	}
}
