package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

// ErrorKind groups error codes by how callers are expected to react to them.
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindValidation     ErrorKind = "validation"
	KindDecline        ErrorKind = "decline"
	KindTransient      ErrorKind = "transient"
	KindChallengeToken ErrorKind = "challenge_token"
	KindRefund         ErrorKind = "refund"
	KindGuestToken     ErrorKind = "guest_token"
	KindInternal       ErrorKind = "internal"
)

const (
	// Configuration Errors (CONFIG_*)
	ErrorCodeUnknownProvider     ErrorCode = "CONFIG_UNKNOWN_PROVIDER"
	ErrorCodeMissingProvider     ErrorCode = "CONFIG_MISSING_PROVIDER"
	ErrorCodeUnsupportedCurrency ErrorCode = "CONFIG_UNSUPPORTED_CURRENCY"
	ErrorCodeMissingCredentials  ErrorCode = "CONFIG_MISSING_CREDENTIALS"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationInstrument    ErrorCode = "VALIDATION_INSTRUMENT_INVALID"
	ErrorCodeValidationSignature     ErrorCode = "VALIDATION_SIGNATURE_INVALID"
	ErrorCodeAccountRequired         ErrorCode = "VALIDATION_ACCOUNT_REQUIRED"
	ErrorCodeConfirmationMismatch    ErrorCode = "VALIDATION_CONFIRMATION_MISMATCH"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayDeclined    ErrorCode = "GATEWAY_DECLINED"
	ErrorCodeGatewayError       ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrorCodeGatewayResponse    ErrorCode = "GATEWAY_INVALID_RESPONSE"

	// Challenge Errors (CHALLENGE_*)
	ErrorCodeChallengeExpired  ErrorCode = "CHALLENGE_EXPIRED"
	ErrorCodeChallengeConsumed ErrorCode = "CHALLENGE_CONSUMED"

	// Refund Errors (REFUND_*)
	ErrorCodeRefundAlreadyRefunded   ErrorCode = "REFUND_ALREADY_REFUNDED"
	ErrorCodeRefundExceedsRemaining  ErrorCode = "REFUND_EXCEEDS_REMAINING"
	ErrorCodeRefundInvalidReason     ErrorCode = "REFUND_INVALID_REASON"
	ErrorCodeRefundNotCaptured       ErrorCode = "REFUND_NOT_CAPTURED"
	ErrorCodeRefundTransactionAbsent ErrorCode = "REFUND_TRANSACTION_NOT_FOUND"
	ErrorCodeRefundInProgress        ErrorCode = "REFUND_IN_PROGRESS"

	// Guest Access Errors (GUEST_*)
	ErrorCodeGuestTokenInvalid  ErrorCode = "GUEST_TOKEN_INVALID"
	ErrorCodeGuestTokenConsumed ErrorCode = "GUEST_TOKEN_CONSUMED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err       error
	Details   map[string]interface{}
	Code      ErrorCode
	Kind      ErrorKind
	Message   string
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so wrapped copies of a
// sentinel still satisfy errors.Is against it.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Wrap returns a copy of e that carries cause. Sentinels are never mutated.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Err:       cause,
		Details:   make(map[string]interface{}),
		Code:      e.Code,
		Kind:      e.Kind,
		Message:   e.Message,
		Retryable: e.Retryable,
	}
}

// Withf returns a copy of e with a more specific message.
func (e *DomainError) Withf(format string, args ...interface{}) *DomainError {
	c := e.Wrap(e.Err)
	c.Message = fmt.Sprintf(format, args...)
	return c
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, kind ErrorKind, message string, retryable bool) *DomainError {
	return &DomainError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
		Details:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// KindOf returns the taxonomy bucket of err. Errors that are not DomainErrors
// are internal.
func KindOf(err error) ErrorKind {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return KindOf(err) == KindValidation
}

// IsTransientError checks if an error is a transient provider or network error
func IsTransientError(err error) bool {
	return KindOf(err) == KindTransient
}

// UserMessage returns the text an end user may see for err. Configuration and
// internal errors are never shown verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation, KindDecline, KindRefund, KindGuestToken:
		var domainErr *DomainError
		errors.As(err, &domainErr)
		return domainErr.Message
	case KindTransient:
		return "The payment provider could not be reached. Please try again."
	case KindChallengeToken:
		if IsDomainError(err, ErrorCodeChallengeConsumed) {
			return "This payment has already been processed."
		}
		return "Your payment session has expired. Please start checkout again."
	default:
		return "We could not process your payment right now."
	}
}

var (
	ErrUnknownProvider     = NewDomainError(ErrorCodeUnknownProvider, KindConfiguration, "unknown payment provider", false)
	ErrMissingProvider     = NewDomainError(ErrorCodeMissingProvider, KindConfiguration, "provider tag is required", false)
	ErrUnsupportedCurrency = NewDomainError(ErrorCodeUnsupportedCurrency, KindConfiguration, "currency is not supported", false)
	ErrMissingCredentials  = NewDomainError(ErrorCodeMissingCredentials, KindConfiguration, "provider credentials are not configured", false)

	ErrValidationFailed  = NewDomainError(ErrorCodeValidationFailed, KindValidation, "request validation failed", false)
	ErrInvalidAmount     = NewDomainError(ErrorCodeValidationAmountInvalid, KindValidation, "amount must be greater than zero", false)
	ErrInvalidInstrument = NewDomainError(ErrorCodeValidationInstrument, KindValidation, "card details are invalid", false)
	ErrInvalidSignature  = NewDomainError(ErrorCodeValidationSignature, KindValidation, "payment signature could not be verified", false)
	ErrAccountRequired   = NewDomainError(ErrorCodeAccountRequired, KindValidation, "sign in or use the guest link to complete this order", false)
	// ErrConfirmationMismatch rejects a provider approval that belongs to a
	// different checkout than the one being confirmed.
	ErrConfirmationMismatch = NewDomainError(ErrorCodeConfirmationMismatch, KindValidation, "this payment does not belong to the checkout being confirmed", false)

	ErrPaymentDeclined      = NewDomainError(ErrorCodeGatewayDeclined, KindDecline, "payment failed", false)
	ErrProviderError        = NewDomainError(ErrorCodeGatewayError, KindTransient, "payment provider error", true)
	ErrProviderTimeout      = NewDomainError(ErrorCodeGatewayTimeout, KindTransient, "payment provider timed out", true)
	ErrProviderUnavailable  = NewDomainError(ErrorCodeGatewayUnavailable, KindTransient, "payment provider unavailable", true)
	ErrInvalidProviderReply = NewDomainError(ErrorCodeGatewayResponse, KindInternal, "payment provider returned an unreadable response", false)

	ErrChallengeExpired  = NewDomainError(ErrorCodeChallengeExpired, KindChallengeToken, "challenge token expired or unknown", false)
	ErrChallengeConsumed = NewDomainError(ErrorCodeChallengeConsumed, KindChallengeToken, "challenge token already consumed", false)

	ErrAlreadyRefunded        = NewDomainError(ErrorCodeRefundAlreadyRefunded, KindRefund, "transaction is already fully refunded", false)
	ErrRefundExceedsRemaining = NewDomainError(ErrorCodeRefundExceedsRemaining, KindRefund, "refund amount exceeds the remaining refundable amount", false)
	ErrInvalidRefundReason    = NewDomainError(ErrorCodeRefundInvalidReason, KindRefund, "refund reason must be duplicate, fraudulent or requested_by_customer", false)
	ErrNotYetCaptured         = NewDomainError(ErrorCodeRefundNotCaptured, KindRefund, "transaction has not been captured", false)
	ErrTransactionNotFound    = NewDomainError(ErrorCodeRefundTransactionAbsent, KindRefund, "transaction not found", false)
	ErrRefundInProgress       = NewDomainError(ErrorCodeRefundInProgress, KindTransient, "a refund for this transaction is already in progress", true)

	ErrGuestTokenInvalid  = NewDomainError(ErrorCodeGuestTokenInvalid, KindGuestToken, "guest access link is invalid", false)
	ErrGuestTokenConsumed = NewDomainError(ErrorCodeGuestTokenConsumed, KindGuestToken, "guest access link has already been used", false)

	ErrInternalError = NewDomainError(ErrorCodeInternalError, KindInternal, "internal server error", false)
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, KindInternal, "database error", true)
)
