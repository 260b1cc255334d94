package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/resumable-upload/internal/pkg/errors"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/pkg/response"
	"github.com/lk2023060901/resumable-upload/internal/pkg/sse"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	"go.uber.org/zap"
)

// DefaultMaxChunkBody 单次请求允许的最大分片
const DefaultMaxChunkBody int64 = 64 * units.MiB

// multipart 表单除分片外的开销
const formOverhead int64 = units.MiB

// 进度事件类型
const (
	EventSnapshot  = "snapshot"
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCancelled = "cancelled"
)

type UploadService struct {
	uc           *biz.UploadUseCase
	hub          *sse.Hub
	keepAlive    time.Duration
	maxChunkBody int64
	logger       *logger.Logger
}

// NewUploadService hub 为 nil 时不提供进度事件流
func NewUploadService(uc *biz.UploadUseCase, hub *sse.Hub, maxChunkBody int64, log *logger.Logger) *UploadService {
	if maxChunkBody <= 0 {
		maxChunkBody = DefaultMaxChunkBody
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UploadService{
		uc:           uc,
		hub:          hub,
		keepAlive:    sse.DefaultKeepAlive,
		maxChunkBody: maxChunkBody,
		logger:       log.Named("upload.service"),
	}
}

// RegisterRoutes 注册上传路由
func (s *UploadService) RegisterRoutes(r gin.IRouter) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("/start", s.Start)
		uploads.POST("/chunk", s.UploadChunk)
		uploads.POST("/probe", s.Probe)
		uploads.POST("/transition", s.Transition)
		uploads.GET("/progress", s.Progress)
		uploads.POST("/cancel", s.Cancel)
		if s.hub != nil {
			uploads.GET("/events", s.Events)
		}
	}
}

// SetKeepAlive 设置事件流心跳间隔
func (s *UploadService) SetKeepAlive(d time.Duration) {
	if d > 0 {
		s.keepAlive = d
	}
}

// Start 开始或恢复一次上传
func (s *UploadService) Start(c *gin.Context) {
	var form FileForm
	if !s.bind(c, &form) {
		return
	}

	rec, err := s.uc.Start(s.ctx(c, &form), form.identity())
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}

	resp := StartResponse{
		SessionID:      rec.SessionID,
		ChunksReceived: len(rec.Parts),
		TotalChunks:    rec.TotalChunks,
		ChunkSize:      rec.ChunkSize,
		State:          rec.State.String(),
	}
	s.publish(rec.Identity, EventStarted, resp)
	response.Success(c, resp)
}

// UploadChunk 上传下一个分片
func (s *UploadService) UploadChunk(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxChunkBody+formOverhead)

	var form FileForm
	if !s.bind(c, &form) {
		return
	}

	chunk, err := s.readChunk(c, true)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	res, err := s.uc.UploadChunk(s.ctx(c, &form), form.identity(), chunk)
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	s.respondDrive(c, &form, res)
}

// Probe 不带数据推进状态机（接收完成后触发合并与清理）
func (s *UploadService) Probe(c *gin.Context) {
	var form FileForm
	if !s.bind(c, &form) {
		return
	}

	res, err := s.uc.Probe(s.ctx(c, &form), form.identity())
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	s.respondDrive(c, &form, res)
}

// Transition 请求一次指定的状态迁移，file 可选
func (s *UploadService) Transition(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxChunkBody+formOverhead)

	var form TransitionForm
	if !s.bind(c, &form) {
		return
	}

	chunk, err := s.readChunk(c, false)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	res, err := s.uc.Transition(s.ctx(c, &form.FileForm), form.identity(), form.Action, chunk)
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	s.respondDrive(c, &form.FileForm, res)
}

// Progress 查询上传进度
func (s *UploadService) Progress(c *gin.Context) {
	var form FileForm
	if !s.bind(c, &form) {
		return
	}

	rec, err := s.uc.Progress(s.ctx(c, &form), form.identity())
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Success(c, toRecordResponse(rec))
}

// Cancel 放弃上传：中止存储会话并删除记录
func (s *UploadService) Cancel(c *gin.Context) {
	var form FileForm
	if !s.bind(c, &form) {
		return
	}

	if err := s.uc.Cancel(s.ctx(c, &form), form.identity()); err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	identity := form.identity().Identity()
	s.publish(identity, EventCancelled, gin.H{"identity": identity})
	s.closeEvents(identity)
	response.SuccessWithMessage(c, "upload cancelled", nil)
}

// Events 以 SSE 推送指定上传的进度，先发送当前记录快照
func (s *UploadService) Events(c *gin.Context) {
	var form FileForm
	if !s.bind(c, &form) {
		return
	}

	rec, err := s.uc.Progress(s.ctx(c, &form), form.identity())
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}

	sub := s.hub.Subscribe(rec.Identity)
	s.logger.WithContext(s.ctx(c, &form)).Debug("progress subscriber attached", zap.String("subscriber", sub.ID))
	sse.Serve(c, s.hub, sub, s.keepAlive, &sse.Event{Type: EventSnapshot, Data: toRecordResponse(rec)})
}

func (s *UploadService) respondDrive(c *gin.Context, form *FileForm, res *biz.DriveResult) {
	resp := toDriveResponse(res)
	identity := form.identity().Identity()
	s.publish(identity, EventProgress, resp)
	if res.Completed || res.Abandoned {
		s.closeEvents(identity)
	}
	response.SuccessWithMessage(c, res.Message, resp)
}

func (s *UploadService) publish(identity, eventType string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(identity, sse.Event{Type: eventType, Data: data})
}

func (s *UploadService) closeEvents(identity string) {
	if s.hub != nil {
		s.hub.CloseTopic(identity)
	}
}

func (s *UploadService) bind(c *gin.Context, form any) bool {
	if err := c.ShouldBind(form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.HandleError(c, s.chunkTooLarge())
			return false
		}
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrUploadInvalidParams, err.Error()))
		return false
	}
	return true
}

func (s *UploadService) ctx(c *gin.Context, form *FileForm) context.Context {
	return logger.WithIdentity(c.Request.Context(), form.identity().Identity())
}

// readChunk 读取 multipart 字段 file
func (s *UploadService) readChunk(c *gin.Context, required bool) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, s.chunkTooLarge()
		case !required && (errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart)):
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrUploadInvalidParams, "file field is required")
	}
	if fh.Size > s.maxChunkBody {
		return nil, s.chunkTooLarge()
	}

	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to open chunk")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxChunkBody+1))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to read chunk")
	}
	if int64(len(data)) > s.maxChunkBody {
		return nil, s.chunkTooLarge()
	}

	s.logger.WithContext(c.Request.Context()).Debug("chunk received",
		zap.String("filename", fh.Filename),
		zap.Int("size", len(data)))
	return data, nil
}

func (s *UploadService) chunkTooLarge() error {
	return apperrors.New(apperrors.ErrUploadChunkTooLarge,
		fmt.Sprintf("chunk must not exceed %s", units.BytesSize(float64(s.maxChunkBody))))
}

// toAppError 将 biz 错误映射为业务错误码
func toAppError(err error) error {
	var opErr *biz.OperationError
	switch {
	case errors.As(err, &opErr) && opErr.Op == "lock":
		return apperrors.Wrap(err, apperrors.ErrUploadLockTimeout)
	case errors.Is(err, biz.ErrOperationFailed):
		return apperrors.Wrap(err, apperrors.ErrUploadOperationFailed)
	case errors.Is(err, biz.ErrInvalidArgument):
		return apperrors.Wrap(err, apperrors.ErrUploadInvalidParams)
	case errors.Is(err, biz.ErrRecordNotFound):
		return apperrors.Wrap(err, apperrors.ErrUploadNotFound)
	case errors.Is(err, biz.ErrInvalidTransition):
		return apperrors.Wrap(err, apperrors.ErrUploadInvalidTransition)
	}
	return apperrors.Wrap(err, apperrors.ErrInternalServer)
}
