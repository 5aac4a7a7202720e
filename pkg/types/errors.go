package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind names a member of the pipeline error taxonomy
type ErrorKind string

const (
	ErrorKindUnauthenticated    ErrorKind = "unauthenticated"
	ErrorKindAuth               ErrorKind = "auth"
	ErrorKindPermission         ErrorKind = "permission"
	ErrorKindRateLimited        ErrorKind = "rate_limited"
	ErrorKindTokenLimitExceeded ErrorKind = "token_limit_exceeded"
	ErrorKindParse              ErrorKind = "parse"
	ErrorKindStore              ErrorKind = "store"
	ErrorKindTransient          ErrorKind = "transient"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// PipelineError is the closed set of errors the ingestion pipeline reports.
// Only types in this file implement it.
type PipelineError interface {
	error
	Kind() ErrorKind
	pipelineError()
}

// UnauthenticatedError is returned when there is no active session
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	if e.Reason == "" {
		return "unauthenticated"
	}
	return fmt.Sprintf("unauthenticated: %s", e.Reason)
}

func (e *UnauthenticatedError) Kind() ErrorKind { return ErrorKindUnauthenticated }
func (e *UnauthenticatedError) pipelineError()  {}

// AuthError is returned when a mailbox or LLM credential is rejected (401)
type AuthError struct {
	Service string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Service, e.Message)
}

func (e *AuthError) Kind() ErrorKind { return ErrorKindAuth }
func (e *AuthError) pipelineError()  {}

// PermissionError is returned when mailbox access is insufficient (403)
type PermissionError struct {
	Service string
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: permission denied: %s", e.Service, e.Message)
}

func (e *PermissionError) Kind() ErrorKind { return ErrorKindPermission }
func (e *PermissionError) pipelineError()  {}

// QuotaDetail carries the quota that was exhausted, when the service reports it
type QuotaDetail struct {
	Metric string `json:"quotaMetric,omitempty"`
	Limit  string `json:"quotaLimit,omitempty"`
}

// RateLimitedError is returned on quota exhaustion or temporary unavailability
type RateLimitedError struct {
	Service    string
	StatusCode int
	RetryAfter time.Duration // zero when the service gave no hint
	Quota      *QuotaDetail
	Message    string
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("%s: rate limited (status %d)", e.Service, e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Quota != nil && e.Quota.Metric != "" {
		msg += fmt.Sprintf(", quota %s", e.Quota.Metric)
	}
	return msg
}

func (e *RateLimitedError) Kind() ErrorKind { return ErrorKindRateLimited }
func (e *RateLimitedError) pipelineError()  {}

// TokenLimitExceededError marks a message too large to summarize. It is a skip, not a failure.
type TokenLimitExceededError struct {
	MessageId       string
	EstimatedTokens int
	MaxTokens       int
}

func (e *TokenLimitExceededError) Error() string {
	return fmt.Sprintf("message %s: estimated %d tokens exceeds limit %d", e.MessageId, e.EstimatedTokens, e.MaxTokens)
}

func (e *TokenLimitExceededError) Kind() ErrorKind { return ErrorKindTokenLimitExceeded }
func (e *TokenLimitExceededError) pipelineError()  {}

// ParseError is returned when an LLM response cannot be decoded into a synopsis
type ParseError struct {
	MessageId string
	Raw       string // truncated
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("message %s: failed to parse synopsis: %v", e.MessageId, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Kind() ErrorKind { return ErrorKindParse }
func (e *ParseError) pipelineError()  {}

// StoreError wraps a document store failure for a single message
type StoreError struct {
	Op        string
	MessageId string
	Err       error
}

func (e *StoreError) Error() string {
	if e.MessageId == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.MessageId, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Kind() ErrorKind { return ErrorKindStore }
func (e *StoreError) pipelineError()  {}

// TransientError is any other upstream failure that may succeed on a later attempt
type TransientError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Kind() ErrorKind { return ErrorKindTransient }
func (e *TransientError) pipelineError()  {}

// KindOf returns the taxonomy kind of err, or ErrorKindUnknown
func KindOf(err error) ErrorKind {
	var pe PipelineError
	if errors.As(err, &pe) {
		return pe.Kind()
	}
	return ErrorKindUnknown
}

// IsRateLimited checks if err is (or wraps) a RateLimitedError
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// AsRateLimited returns the RateLimitedError in err's chain, if any
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsFatal reports errors that abort the current call and are never retried
func IsFatal(err error) bool {
	switch KindOf(err) {
	case ErrorKindUnauthenticated, ErrorKindAuth, ErrorKindPermission:
		return true
	}
	return false
}

// RecordNotFoundError is returned when no synopsis exists for a message
type RecordNotFoundError struct {
	MessageId string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("synopsis record not found: %s", e.MessageId)
}

// From checks if the given error is a RecordNotFoundError
func (e *RecordNotFoundError) From(err error) bool {
	var notFound *RecordNotFoundError
	return errors.As(err, &notFound)
}
