package minio

import (
	"bytes"
	"context"
	"sort"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// CompletedPart identifies one uploaded part for CompleteMultipartUpload
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// NewMultipartUpload starts a multipart upload of objectName in the upload
// bucket and returns its upload ID.
func (c *Client) NewMultipartUpload(ctx context.Context, objectName string) (string, error) {
	if err := c.checkObject("NewMultipartUpload", objectName); err != nil {
		return "", err
	}

	uploadID, err := c.core.NewMultipartUpload(ctx, c.config.Bucket, objectName, minio.PutObjectOptions{})
	if err != nil {
		return "", WrapError("NewMultipartUpload", err, c.config.Bucket, objectName)
	}

	c.logger.Debug("multipart upload started",
		zap.String("object", objectName),
		zap.String("upload_id", uploadID),
	)
	return uploadID, nil
}

// PutObjectPart uploads one part and returns its ETag
func (c *Client) PutObjectPart(ctx context.Context, objectName, uploadID string, partNumber int, data []byte) (string, error) {
	if err := c.checkObject("PutObjectPart", objectName); err != nil {
		return "", err
	}

	part, err := c.core.PutObjectPart(ctx, c.config.Bucket, objectName, uploadID, partNumber,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return "", WrapError("PutObjectPart", err, c.config.Bucket, objectName)
	}
	return part.ETag, nil
}

// CompleteMultipartUpload joins the parts into the final object. Parts are
// sent sorted by part number.
func (c *Client) CompleteMultipartUpload(ctx context.Context, objectName, uploadID string, parts []CompletedPart) (string, error) {
	if err := c.checkObject("CompleteMultipartUpload", objectName); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", WrapError("CompleteMultipartUpload", ErrNoParts, c.config.Bucket, objectName)
	}

	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	sort.Slice(complete, func(i, j int) bool { return complete[i].PartNumber < complete[j].PartNumber })

	info, err := c.core.CompleteMultipartUpload(ctx, c.config.Bucket, objectName, uploadID, complete, minio.PutObjectOptions{})
	if err != nil {
		return "", WrapError("CompleteMultipartUpload", err, c.config.Bucket, objectName)
	}

	c.logger.Info("multipart upload completed",
		zap.String("object", objectName),
		zap.String("upload_id", uploadID),
		zap.Int("parts", len(parts)),
		zap.String("etag", info.ETag),
	)
	return info.ETag, nil
}

// StatObject returns the metadata of objectName in the upload bucket
func (c *Client) StatObject(ctx context.Context, objectName string) (minio.ObjectInfo, error) {
	if err := c.checkObject("StatObject", objectName); err != nil {
		return minio.ObjectInfo{}, err
	}

	info, err := c.core.StatObject(ctx, c.config.Bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, WrapError("StatObject", err, c.config.Bucket, objectName)
	}
	return info, nil
}

// AbortMultipartUpload discards an unfinished multipart upload. An upload that
// no longer exists is not an error.
func (c *Client) AbortMultipartUpload(ctx context.Context, objectName, uploadID string) error {
	if err := c.checkObject("AbortMultipartUpload", objectName); err != nil {
		return err
	}

	err := c.core.AbortMultipartUpload(ctx, c.config.Bucket, objectName, uploadID)
	if err != nil && !IsNotFound(err) {
		return WrapError("AbortMultipartUpload", err, c.config.Bucket, objectName)
	}
	return nil
}

func (c *Client) checkObject(op, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := ValidateObjectName(objectName); err != nil {
		return WrapErrorWithMessage(op, ErrInvalidObjectName, err.Error())
	}
	return nil
}
