package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the distribution core. Callers match with errors.Is.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrCapacityExceeded = fmt.Errorf("queue capacity exceeded")
	ErrQueueEmpty       = fmt.Errorf("queue empty")
	ErrCircuitOpen      = fmt.Errorf("circuit open")
	ErrRateLimited      = fmt.Errorf("rate limit exceeded")
	ErrOperationTimeout = fmt.Errorf("operation timed out")
	ErrStoreUnavailable = fmt.Errorf("store unavailable")
	ErrHandlerFailed    = fmt.Errorf("task handler failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Queue.Enqueue")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient rejection that may
// succeed on a later attempt without operator intervention.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrStoreUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	CodeQueueEmpty       ErrorCode = "QUEUE_EMPTY"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	CodeHandlerFailed    ErrorCode = "HANDLER_FAILED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrInvalidInput:     CodeInvalidInput,
	ErrCapacityExceeded: CodeCapacityExceeded,
	ErrQueueEmpty:       CodeQueueEmpty,
	ErrCircuitOpen:      CodeCircuitOpen,
	ErrRateLimited:      CodeRateLimited,
	ErrOperationTimeout: CodeTimeout,
	ErrStoreUnavailable: CodeStoreUnavailable,
	ErrHandlerFailed:    CodeHandlerFailed,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
