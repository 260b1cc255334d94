package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

const (
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Upload errors (6000-6999)
	ErrUploadInvalidTransition = 6000
	ErrUploadNotFound          = 6001
	ErrUploadInvalidParams     = 6002
	ErrUploadOperationFailed   = 6003
	ErrUploadChunkTooLarge     = 6004
	ErrUploadLockTimeout       = 6005
)

var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	ErrUploadInvalidTransition: {ErrUploadInvalidTransition, http.StatusConflict, "Invalid upload state transition"},
	ErrUploadNotFound:          {ErrUploadNotFound, http.StatusNotFound, "Upload not found"},
	ErrUploadInvalidParams:     {ErrUploadInvalidParams, http.StatusBadRequest, "Invalid upload parameters"},
	ErrUploadOperationFailed:   {ErrUploadOperationFailed, http.StatusInternalServerError, "Upload operation failed"},
	ErrUploadChunkTooLarge:     {ErrUploadChunkTooLarge, http.StatusRequestEntityTooLarge, "Chunk exceeds size limit"},
	ErrUploadLockTimeout:       {ErrUploadLockTimeout, http.StatusServiceUnavailable, "Upload is busy, retry later"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

func IsServerError(code int) bool {
	return GetHTTPStatus(code) >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
