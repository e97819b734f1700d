// Package errors provides the domain error taxonomy shared by flows, exchange handlers and job workers.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRecipient  ErrorCode = "MISSING_RECIPIENT"
	ErrCodePolicyBlocked     ErrorCode = "POLICY_BLOCKED"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeStateConflict     ErrorCode = "STATE_CONFLICT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeSecurityViolation ErrorCode = "SECURITY_VIOLATION"

	ErrCodeTransientInfra           ErrorCode = "TRANSIENT_INFRA"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// Kind groups error codes into the categories callers react to.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindPolicyBlocked Kind = "policy_blocked"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindTransient     Kind = "transient"
	KindSecurity      Kind = "security"
	KindInternal      Kind = "internal"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Kind reports the taxonomy bucket of the error code.
func (e *StandardError) Kind() Kind {
	switch e.Code {
	case ErrCodeValidationFailed, ErrCodeMissingRecipient:
		return KindValidation
	case ErrCodePolicyBlocked:
		return KindPolicyBlocked
	case ErrCodeNotFound:
		return KindNotFound
	case ErrCodeStateConflict, ErrCodeInvalidTransition:
		return KindStateConflict
	case ErrCodeSecurityViolation:
		return KindSecurity
	case ErrCodeTransientInfra, ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed,
		ErrCodeQueryTimeout, ErrCodeSearchQueryFailed, ErrCodeNotificationSendFailed:
		return KindTransient
	default:
		return KindInternal
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingRecipientError is a hard validation failure, distinct from a policy block.
func NewMissingRecipientError(notificationType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingRecipient,
		Message:   "Notification has no recipient address",
		Details:   fmt.Sprintf("notificationType: %s", notificationType),
		Retryable: false,
		Metadata:  map[string]interface{}{"reason": "missing_recipient"},
		Timestamp: time.Now().UTC(),
	}
}

// NewPolicyBlockedError carries the policy reason in Metadata so callers can report it.
func NewPolicyBlockedError(reason, message string, metadata map[string]interface{}) *StandardError {
	meta := map[string]interface{}{"reason": reason}
	for k, v := range metadata {
		meta[k] = v
	}
	return &StandardError{
		Code:      ErrCodePolicyBlocked,
		Message:   message,
		Details:   fmt.Sprintf("reason: %s", reason),
		Retryable: true,
		Metadata:  meta,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("%s: %s", resource, id),
		Retryable: false,
		Metadata:  map[string]interface{}{"resource": resource, "id": id},
		Timestamp: time.Now().UTC(),
	}
}

func NewStateConflictError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateConflict,
		Message:   "State changed, refresh and try again",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Cannot move order from %s to %s", from, to),
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

// NewSecurityError keeps the detailed reason for the audit log only.
func NewSecurityError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSecurityViolation,
		Message:   "Verification failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewTransientError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransientInfra,
		Message:   "Temporary infrastructure error",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewQueryTimeoutError(queryType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("queryType: %s", queryType),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     context.DeadlineExceeded,
	}
}

func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Search query failed",
		Details:   fmt.Sprintf("queryType: %s, error: %v", queryType, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Failed to send notification",
		Details:   fmt.Sprintf("type: %s, error: %v", notificationType, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// WrapQuery converts a database/sql error into a transient StandardError.
// StandardErrors pass through untouched.
func WrapQuery(queryType string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewQueryTimeoutError(queryType)
	}
	return NewQueryExecutionFailedError(queryType, err)
}

// ==========================
// 4. Classification
// ==========================

// As extracts a StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// KindOf maps any error onto the taxonomy. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if stdErr, ok := As(err); ok {
		return stdErr.Kind()
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// UserMessage is the customer-safe text for an error.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		if stdErr, ok := As(err); ok && stdErr.Details != "" && stdErr.Code == ErrCodeValidationFailed {
			return stdErr.Details
		}
		return "That input was not valid. Please try again."
	case KindNotFound:
		if stdErr, ok := As(err); ok {
			return stdErr.Message + "."
		}
		return "Not found."
	case KindStateConflict:
		if stdErr, ok := As(err); ok {
			return stdErr.Message + "."
		}
		return "Something changed. Please refresh and try again."
	case KindPolicyBlocked:
		if stdErr, ok := As(err); ok {
			return stdErr.Message
		}
		return "Message delivery is paused right now."
	case KindSecurity:
		return "That code is invalid or expired."
	default:
		return "Something went wrong on our side. Please try again in a moment."
	}
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransientInfra,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed:
		return 3
	case ErrCodeQueryTimeout:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorKind":         string(stdErr.Kind()),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "RECIPIENT") || strings.Contains(codeStr, "POLICY"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "CONFLICT"):
		return "ORDER"
	case strings.Contains(codeStr, "SECURITY"):
		return "SECURITY"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "NOT_FOUND"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
