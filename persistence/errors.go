package persistence

import (
	"errors"
	"fmt"
)

const KIND_WORKFLOW = "workflow"
const KIND_STAGE = "stage"
const KIND_OPERATION = "operation"
const KIND_EXECUTION = "execution"
const KIND_ASSET = "asset"

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// IsDefinitionNotFound reports whether err is a missing workflow, stage or operation.
func IsDefinitionNotFound(err error) bool {
	var nf NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	return nf.Kind == KIND_WORKFLOW || nf.Kind == KIND_STAGE || nf.Kind == KIND_OPERATION
}

func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

type AlreadyExistsError struct {
	Kind string
	Name string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Name)
}

type VersionConflictError struct {
	Id       string
	Expected int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on execution %s, expected version %d", e.Id, e.Expected)
}

func IsVersionConflict(err error) bool {
	var vc VersionConflictError
	return errors.As(err, &vc)
}

type LockUnavailableError struct {
	AssetId  string
	LockedBy string
}

func (e LockUnavailableError) Error() string {
	return fmt.Sprintf("asset %s is locked by %s", e.AssetId, e.LockedBy)
}

type LockMismatchError struct {
	AssetId     string
	ExecutionId string
	LockedBy    string
}

func (e LockMismatchError) Error() string {
	return fmt.Sprintf("asset %s lock is held by %q, not %s", e.AssetId, e.LockedBy, e.ExecutionId)
}

// IsLockContention reports whether err is a retryable asset lock error.
func IsLockContention(err error) bool {
	var lu LockUnavailableError
	var lm LockMismatchError
	return errors.As(err, &lu) || errors.As(err, &lm)
}

var ErrCapacityReached = errors.New("max concurrent workflows reached")

// ErrNotQueued is returned by Admit when the execution left the Queued status.
var ErrNotQueued = errors.New("execution is not queued")
