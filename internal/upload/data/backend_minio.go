package data

import (
	"context"
	"fmt"

	"github.com/lk2023060901/resumable-upload/internal/pkg/minio"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
)

// MinIOBackend 基于 MinIO multipart API 的存储后端
type MinIOBackend struct {
	client *minio.Client
}

// NewMinIOBackend 创建 MinIO 存储后端，对象写入客户端配置的 bucket
func NewMinIOBackend(client *minio.Client) *MinIOBackend {
	return &MinIOBackend{client: client}
}

func (b *MinIOBackend) BeginSession(ctx context.Context, name string) (string, error) {
	return b.client.NewMultipartUpload(ctx, name)
}

func (b *MinIOBackend) UploadPart(ctx context.Context, name, sessionID string, partNumber int, data []byte) (string, error) {
	return b.client.PutObjectPart(ctx, name, sessionID, partNumber, data)
}

// Finalize 合并分片。空文件先补一个空分片；会话已不存在但对象已生成时视为成功
func (b *MinIOBackend) Finalize(ctx context.Context, name, sessionID string, parts []biz.Part) error {
	if len(parts) == 0 {
		tag, err := b.client.PutObjectPart(ctx, name, sessionID, 1, nil)
		if err != nil {
			if minio.IsNoSuchUpload(err) {
				return b.confirmCompleted(ctx, name, err)
			}
			return err
		}
		parts = []biz.Part{{PartNumber: 1, ChecksumTag: tag}}
	}

	completed := make([]minio.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletedPart{PartNumber: p.PartNumber, ETag: p.ChecksumTag})
	}
	_, err := b.client.CompleteMultipartUpload(ctx, name, sessionID, completed)
	if err != nil && minio.IsNoSuchUpload(err) {
		return b.confirmCompleted(ctx, name, err)
	}
	return err
}

// confirmCompleted 上一次合并已成功但记录未保存时，会话已被服务端回收
func (b *MinIOBackend) confirmCompleted(ctx context.Context, name string, cause error) error {
	if _, err := b.client.StatObject(ctx, name); err != nil {
		return fmt.Errorf("%w (stat: %v)", cause, err)
	}
	return nil
}

func (b *MinIOBackend) Abort(ctx context.Context, name, sessionID string) error {
	return b.client.AbortMultipartUpload(ctx, name, sessionID)
}
