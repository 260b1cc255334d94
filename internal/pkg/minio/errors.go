package minio

import (
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Predefined errors
var (
	ErrInvalidArgument   = errors.New("minio: invalid argument")
	ErrInvalidBucketName = errors.New("minio: invalid bucket name")
	ErrInvalidObjectName = errors.New("minio: invalid object name")
	ErrNoParts           = errors.New("minio: multipart upload has no parts")
	ErrClientClosed      = errors.New("minio: client is closed")
)

// Error represents a MinIO error with additional context
type Error struct {
	Op      string // Operation that failed
	Err     error  // Original error
	Bucket  string
	Object  string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Object != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s, object=%s: %v", e.Op, e.Bucket, e.Object, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s: %v", e.Op, e.Bucket, e.Err)
	case e.Message != "":
		return fmt.Sprintf("minio: %s failed: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("minio: %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports a missing bucket, key or multipart upload
func IsNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchBucket" || resp.Code == "NoSuchKey" || resp.Code == "NoSuchUpload"
	}
	return false
}

// IsNoSuchUpload reports a multipart upload that was completed or aborted
func IsNoSuchUpload(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && resp.Code == "NoSuchUpload"
}

// IsAccessDenied checks if the error is an "access denied" error
func IsAccessDenied(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "AccessDenied" || resp.Code == "Forbidden"
	}
	return false
}

// WrapError wraps an error with operation context
func WrapError(op string, err error, bucket, object string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Bucket: bucket, Object: object}
}

// WrapErrorWithMessage wraps an error with operation context and a message
func WrapErrorWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Message: message}
}
