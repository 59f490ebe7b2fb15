package engine

import (
	"errors"
	"fmt"
)

// ErrDeliveryExhausted marks a stage message that used up its delivery budget.
var ErrDeliveryExhausted = errors.New("QueueDeliveryExhausted: stage message exceeded its delivery budget")

var ErrCommitRetriesExhausted = errors.New("too many version conflicts committing execution")

type OperationFailedError struct {
	Operation string
	Reason    string
	Err       error
}

func (e OperationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation %s failed: %s: %v", e.Operation, e.Reason, e.Err)
	}
	return fmt.Sprintf("operation %s failed: %s", e.Operation, e.Reason)
}

func (e OperationFailedError) Unwrap() error {
	return e.Err
}

func stageFailedMessage(operation string) string {
	return fmt.Sprintf("Stage failed because operation %s execution failed", operation)
}
