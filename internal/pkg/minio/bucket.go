package minio

import (
	"context"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// BucketExists checks if a bucket exists
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	if bucketName == "" {
		return false, WrapError("BucketExists", ErrInvalidBucketName, bucketName, "")
	}

	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return false, WrapError("BucketExists", err, bucketName, "")
	}
	return exists, nil
}

// EnsureBucket creates the configured bucket when it does not exist yet
func (c *Client) EnsureBucket(ctx context.Context) error {
	bucket := c.config.Bucket
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !c.config.CreateBucket {
		return WrapErrorWithMessage("EnsureBucket", ErrInvalidBucketName, "bucket "+bucket+" does not exist")
	}

	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return WrapError("MakeBucket", err, bucket, "")
	}
	c.logger.Info("bucket created successfully",
		zap.String("bucket", bucket),
		zap.String("region", c.config.Region),
	)
	return nil
}
