package store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrConditionFailed indicates a single-item conditional write failed.
	ErrConditionFailed = errors.New("conditional check failed")
	// ErrTooManyItems is returned when a transaction exceeds MaxTransactItems.
	ErrTooManyItems = errors.New("too many items in transaction")
)

// Cancellation reason codes reported by DynamoDB per transaction item.
const (
	ReasonNone                   = "None"
	ReasonConditionalCheckFailed = "ConditionalCheckFailed"
	ReasonTransactionConflict    = "TransactionConflict"
)

// TransactionCanceledError reports which items of a transaction caused its cancellation.
// Reasons is aligned with the submitted operations.
type TransactionCanceledError struct {
	Reasons []string
	Err     error
}

func (e *TransactionCanceledError) Error() string {
	return fmt.Sprintf("transaction canceled %v: %v", e.Reasons, e.Err)
}

func (e *TransactionCanceledError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConditionFailed) match a transaction cancelled by a condition.
func (e *TransactionCanceledError) Is(target error) bool {
	return target == ErrConditionFailed && e.FirstConditionFailure() >= 0
}

// ConditionFailedAt reports whether the item at index i failed its condition.
func (e *TransactionCanceledError) ConditionFailedAt(i int) bool {
	return i >= 0 && i < len(e.Reasons) && e.Reasons[i] == ReasonConditionalCheckFailed
}

// FirstConditionFailure returns the index of the first item whose condition failed, or -1.
func (e *TransactionCanceledError) FirstConditionFailure() int {
	for i, r := range e.Reasons {
		if r == ReasonConditionalCheckFailed {
			return i
		}
	}
	return -1
}

// Conflicted reports whether DynamoDB cancelled because of a competing transaction.
func (e *TransactionCanceledError) Conflicted() bool {
	for _, r := range e.Reasons {
		if r == ReasonTransactionConflict {
			return true
		}
	}
	return false
}

// AsTransactionCanceled extracts a *TransactionCanceledError from err.
func AsTransactionCanceled(err error) (*TransactionCanceledError, bool) {
	var tce *TransactionCanceledError
	if errors.As(err, &tce) {
		return tce, true
	}
	return nil, false
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func translateTransactError(err error) error {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		reasons := make([]string, len(tce.CancellationReasons))
		for i, r := range tce.CancellationReasons {
			reasons[i] = ReasonNone
			if r.Code != nil {
				reasons[i] = *r.Code
			}
		}
		return &TransactionCanceledError{Reasons: reasons, Err: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "TransactionConflictException" {
		return &TransactionCanceledError{Reasons: []string{ReasonTransactionConflict}, Err: err}
	}
	return fmt.Errorf("transact write: %w", err)
}
