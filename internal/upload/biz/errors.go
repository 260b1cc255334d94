package biz

import (
	"errors"
	"fmt"

	"github.com/lk2023060901/resumable-upload/internal/upload/types"
)

// Upload 相关错误
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrIncompleteUpload  = errors.New("upload is not fully received")
	ErrBackend           = errors.New("storage backend failure")
	ErrOperationFailed   = errors.New("operation failed")
	ErrUnreachableGoal   = errors.New("goal state unreachable")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrRecordNotFound    = errors.New("upload record not found")
)

// TransitionError is returned when an action is not a successor of the
// record's current state.
type TransitionError struct {
	From types.State
	To   types.State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from [%s] -> [%s]", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// OperationError wraps a ledger, locker or backend failure that could not be
// absorbed by the state machine.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrOperationFailed, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Is(target error) bool {
	return target == ErrOperationFailed
}

func operationFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}

// backendError marks a storage backend failure while keeping its cause.
func backendError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}
