package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the coordination layer.
var (
	// Validation.
	ErrSchemaValidation = fmt.Errorf("schema validation failed")

	// Worker contract.
	ErrDepthExceeded     = fmt.Errorf("dispatch depth ceiling exceeded")
	ErrBudgetExceeded    = fmt.Errorf("execution budget exceeded")
	ErrWorkerFailed      = fmt.Errorf("worker execution failed")
	ErrContractViolation = fmt.Errorf("worker returned failure without error detail")

	// Registry.
	ErrRegistryFull         = fmt.Errorf("worker registry at capacity")
	ErrNoCapabilities       = fmt.Errorf("worker declares no capabilities")
	ErrCapabilityIncomplete = fmt.Errorf("capability missing intent or schema")

	// Coordination.
	ErrClassificationFailed = fmt.Errorf("intent classification failed")
	ErrNoCapableWorker      = fmt.Errorf("no capable worker found")
	ErrAllTasksFailed       = fmt.Errorf("all parallel tasks failed")

	// Quota.
	ErrQuotaExceeded = fmt.Errorf("caller quota exceeded")
)

// Phase tags where in the coordination flow an error occurred.
type Phase string

const (
	PhaseClassification Phase = "intent_classification"
	PhaseSelection      Phase = "worker_selection"
	PhaseExecution      Phase = "execution"
	PhaseCoordination   Phase = "coordination"
)

// DomainError wraps a sentinel error with operation context. Phase is set
// on coordination-level failures; Retryable hints whether upstream retry
// logic may resubmit.
type DomainError struct {
	Op        string // operation name (e.g., "Coordinator.Dispatch")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	Phase     Phase  // coordination phase, when applicable
	Retryable bool
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

// NewWorkerError wraps a worker's own execution failure with a retryable hint.
func NewWorkerError(op string, err error, detail string, retryable bool) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, Retryable: retryable}
}

// NewCoordinationError creates a DomainError tagged with the coordination
// phase it occurred in.
func NewCoordinationError(phase Phase, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, Phase: phase}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may
// succeed on retry.
func IsRetryableError(err error) bool {
	var de *DomainError
	if errors.As(err, &de) && de.Retryable {
		return true
	}
	return errors.Is(err, ErrProviderError) || errors.Is(err, ErrTimeout)
}

// PhaseOf returns the coordination phase tagged on err, or "" when the
// error carries none.
func PhaseOf(err error) Phase {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Phase
	}
	return ""
}

// ErrorCode is a machine-parseable error category for monitoring and
// upstream retry decisions.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeDuplicate            ErrorCode = "DUPLICATE"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeLimitReached         ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeSchemaValidation     ErrorCode = "SCHEMA_VALIDATION"
	CodeDepthExceeded        ErrorCode = "DEPTH_EXCEEDED"
	CodeBudgetExceeded       ErrorCode = "BUDGET_EXCEEDED"
	CodeWorkerFailed         ErrorCode = "WORKER_FAILED"
	CodeContractViolation    ErrorCode = "CONTRACT_VIOLATION"
	CodeRegistryFull         ErrorCode = "REGISTRY_FULL"
	CodeNoCapabilities       ErrorCode = "NO_CAPABILITIES"
	CodeCapabilityIncomplete ErrorCode = "CAPABILITY_INCOMPLETE"
	CodeClassificationFailed ErrorCode = "CLASSIFICATION_FAILED"
	CodeNoCapableWorker      ErrorCode = "NO_CAPABLE_WORKER"
	CodeAllTasksFailed       ErrorCode = "ALL_TASKS_FAILED"
	CodeQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrDuplicate:            CodeDuplicate,
	ErrTimeout:              CodeTimeout,
	ErrLimitReached:         CodeLimitReached,
	ErrInvalidInput:         CodeInvalidInput,
	ErrProviderError:        CodeProviderError,
	ErrSchemaValidation:     CodeSchemaValidation,
	ErrDepthExceeded:        CodeDepthExceeded,
	ErrBudgetExceeded:       CodeBudgetExceeded,
	ErrWorkerFailed:         CodeWorkerFailed,
	ErrContractViolation:    CodeContractViolation,
	ErrRegistryFull:         CodeRegistryFull,
	ErrNoCapabilities:       CodeNoCapabilities,
	ErrCapabilityIncomplete: CodeCapabilityIncomplete,
	ErrClassificationFailed: CodeClassificationFailed,
	ErrNoCapableWorker:      CodeNoCapableWorker,
	ErrAllTasksFailed:       CodeAllTasksFailed,
	ErrQuotaExceeded:        CodeQuotaExceeded,
}

// ErrorCodeOf returns the machine-parseable error code for the given
// error. It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
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

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
