package service

import (
	"time"

	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
)

// FileForm 文件标识表单（POST 表单或 GET 查询参数）
type FileForm struct {
	FileName string `form:"file_name" binding:"required"`
	FileSize *int64 `form:"file_size" binding:"required"`
	FileHash string `form:"file_hash" binding:"required"`
}

func (f *FileForm) identity() biz.FileIdentity {
	return biz.FileIdentity{Name: f.FileName, Size: *f.FileSize, ContentHash: f.FileHash}
}

// TransitionForm 显式状态迁移请求
type TransitionForm struct {
	FileForm
	Action string `form:"action" binding:"required"`
}

// StartResponse 开始/恢复上传的响应
type StartResponse struct {
	SessionID      string `json:"session_id"`
	ChunksReceived int    `json:"chunks_received"`
	TotalChunks    int    `json:"total_chunks"`
	ChunkSize      int64  `json:"chunk_size"`
	State          string `json:"state"`
}

// PartResponse 已接收分片
type PartResponse struct {
	PartNumber  int    `json:"part_number"`
	ChecksumTag string `json:"checksum_tag"`
}

// RecordResponse 上传记录视图
type RecordResponse struct {
	Identity       string         `json:"identity"`
	Name           string         `json:"name"`
	Size           int64          `json:"size"`
	ContentHash    string         `json:"content_hash"`
	SessionID      string         `json:"backend_session_id"`
	ChunkSize      int64          `json:"chunk_size"`
	TotalChunks    int            `json:"total_chunks"`
	ChunksReceived int            `json:"chunks_received"`
	NextPartNumber int            `json:"next_part_number"`
	Parts          []PartResponse `json:"parts"`
	State          string         `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DriveResponse chunk/probe/transition 的响应
type DriveResponse struct {
	State     string          `json:"state"`
	Message   string          `json:"message"`
	Completed bool            `json:"completed"`
	Abandoned bool            `json:"abandoned"`
	Data      *RecordResponse `json:"data"`
}

func toRecordResponse(rec *biz.UploadRecord) *RecordResponse {
	if rec == nil {
		return nil
	}
	parts := make([]PartResponse, len(rec.Parts))
	for i, p := range rec.Parts {
		parts[i] = PartResponse{PartNumber: p.PartNumber, ChecksumTag: p.ChecksumTag}
	}
	return &RecordResponse{
		Identity:       rec.Identity,
		Name:           rec.Name,
		Size:           rec.Size,
		ContentHash:    rec.ContentHash,
		SessionID:      rec.SessionID,
		ChunkSize:      rec.ChunkSize,
		TotalChunks:    rec.TotalChunks,
		ChunksReceived: len(rec.Parts),
		NextPartNumber: rec.NextPartNumber(),
		Parts:          parts,
		State:          rec.State.String(),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func toDriveResponse(res *biz.DriveResult) *DriveResponse {
	return &DriveResponse{
		State:     res.State.String(),
		Message:   res.Message,
		Completed: res.Completed,
		Abandoned: res.Abandoned,
		Data:      toRecordResponse(res.Record),
	}
}
