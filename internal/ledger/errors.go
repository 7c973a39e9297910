package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized       = errors.New("signer lacks the on-chain role for this operation")
	ErrTransactionFailure = errors.New("ledger transaction failed")
	ErrReadFailure        = errors.New("ledger read failed")
	ErrCorruptData        = errors.New("ledger value outside the expected domain")
)

// Opaque codes used when the node does not hand back a revert string.
const (
	CodeReverted  = "CALL_EXCEPTION"
	CodeTimeout   = "TIMEOUT"
	CodeCancelled = "CANCELLED"
	CodeRejected  = "REJECTED"
)

// TransactionError is a state-changing call that reverted, timed out or was refused by the node.
type TransactionError struct {
	Method string
	Reason string
	Code   string
	Err    error
}

func (e *TransactionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: transaction failed (%s): %v", e.Method, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: transaction failed (%s)", e.Method, e.Code)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransactionFailure }

// Timeout reports whether the transaction outcome is unknown because confirmation was not observed in time.
func (e *TransactionError) Timeout() bool { return e.Code == CodeTimeout }

// Unconfirmed reports whether the transaction may have landed after the
// wait for its receipt was abandoned.
func (e *TransactionError) Unconfirmed() bool {
	return e.Code == CodeTimeout || e.Code == CodeCancelled
}

type UnauthorizedError struct {
	Method string
	Signer common.Address
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s: signer %s is not authorized", e.Method, e.Signer.Hex())
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

type ReadError struct {
	Method   string
	Contract common.Address
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s on %s: %v", e.Method, e.Contract.Hex(), e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func (e *ReadError) Is(target error) bool { return target == ErrReadFailure }

type CorruptDataError struct {
	Field string
	Value any
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("field %s: unexpected value %v", e.Field, e.Value)
}

func (e *CorruptDataError) Is(target error) bool { return target == ErrCorruptData }

// Revert builds the error for a revert whose reason string was decoded.
// Role-check reverts ("Only project manager ...") are reported as unauthorized.
func Revert(method string, signer common.Address, reason string) error {
	if isRoleRevert(reason) {
		return &UnauthorizedError{Method: method, Signer: signer, Reason: reason}
	}
	return &TransactionError{Method: method, Reason: reason, Code: CodeReverted}
}

func isRoleRevert(reason string) bool {
	r := strings.ToLower(strings.TrimSpace(reason))
	return strings.HasPrefix(r, "only ") ||
		strings.Contains(r, "not authorized") ||
		strings.Contains(r, "unauthorized") ||
		strings.Contains(r, "caller is not")
}

// Reason returns the human-readable message for a ledger error: the decoded
// revert string when the ledger supplied one, otherwise a category message.
func Reason(err error) string {
	var te *TransactionError
	if errors.As(err, &te) {
		if te.Reason != "" {
			return te.Reason
		}
		switch te.Code {
		case CodeTimeout:
			return "transaction was not confirmed in time"
		case CodeCancelled:
			return "transaction wait was cancelled"
		default:
			return "transaction failed"
		}
	}
	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		if ue.Reason != "" {
			return ue.Reason
		}
		return "not authorized"
	}
	switch {
	case errors.Is(err, ErrReadFailure):
		return "ledger node unavailable"
	case errors.Is(err, ErrCorruptData):
		return "ledger returned unexpected data"
	}
	return "ledger error"
}

func isClassified(err error) bool {
	return errors.Is(err, ErrTransactionFailure) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrReadFailure) ||
		errors.Is(err, ErrCorruptData)
}
