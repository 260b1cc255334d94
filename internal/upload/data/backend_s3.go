package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	"go.uber.org/zap"
)

// S3Options AWS S3 后端参数
type S3Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// S3Backend 基于 AWS S3 multipart API 的存储后端
type S3Backend struct {
	client *s3.Client
	bucket string
	logger *logger.Logger
}

// NewS3Client 按配置创建 S3 客户端。静态凭证为空时走默认凭证链
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// NewS3Backend 创建 S3 存储后端
func NewS3Backend(client *s3.Client, bucket string, log *logger.Logger) *S3Backend {
	if log == nil {
		log = logger.NewNop()
	}
	return &S3Backend{client: client, bucket: bucket, logger: log.Named("s3")}
}

func (b *S3Backend) BeginSession(ctx context.Context, name string) (string, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("s3 create multipart upload %q: %w", name, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (b *S3Backend) UploadPart(ctx context.Context, name, sessionID string, partNumber int, data []byte) (string, error) {
	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(name),
		UploadId:      aws.String(sessionID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload part %d of %q: %w", partNumber, name, err)
	}
	return aws.ToString(out.ETag), nil
}

// Finalize 合并分片。S3 不接受空的 CompleteMultipartUpload，空文件先补一个空分片。
// 会话已不存在但对象已生成时视为成功（上次合并成功后记录未能保存）
func (b *S3Backend) Finalize(ctx context.Context, name, sessionID string, parts []biz.Part) error {
	if len(parts) == 0 {
		tag, err := b.UploadPart(ctx, name, sessionID, 1, nil)
		if err != nil {
			if isNoSuchUpload(err) {
				return b.confirmCompleted(ctx, name, sessionID, err)
			}
			return err
		}
		parts = []biz.Part{{PartNumber: 1, ChecksumTag: tag}}
	}

	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ChecksumTag),
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(name),
		UploadId:        aws.String(sessionID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return b.confirmCompleted(ctx, name, sessionID, err)
		}
		return fmt.Errorf("s3 complete multipart upload %q: %w", name, err)
	}

	b.logger.Info("multipart upload completed",
		zap.String("object", name),
		zap.String("upload_id", sessionID),
		zap.Int("parts", len(parts)),
		zap.String("etag", aws.ToString(out.ETag)),
	)
	return nil
}

func (b *S3Backend) confirmCompleted(ctx context.Context, name, sessionID string, cause error) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("s3 complete multipart upload %q: %w (head: %v)", name, cause, err)
	}

	b.logger.Info("multipart upload already completed",
		zap.String("object", name),
		zap.String("upload_id", sessionID),
	)
	return nil
}

// Abort 放弃上传会话，会话已不存在时不报错
func (b *S3Backend) Abort(ctx context.Context, name, sessionID string) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(name),
		UploadId: aws.String(sessionID),
	})
	if err != nil && !isNoSuchUpload(err) {
		return fmt.Errorf("s3 abort multipart upload %q: %w", name, err)
	}
	return nil
}

func isNoSuchUpload(err error) bool {
	var noSuchUpload *s3types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload"
}
