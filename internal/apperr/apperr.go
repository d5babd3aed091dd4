// Package apperr defines the typed error taxonomy the planner and HTTP
// facade share so every non-2xx response renders the same envelope shape.
package apperr

import (
	"errors"
	"net/http"
)

// Code is one of the fixed taxonomy entries from SPEC_FULL.md §7.
type Code string

const (
	AliasUnknown        Code = "ALIAS_UNKNOWN"
	UnsupportedSchema   Code = "UNSUPPORTED_SCHEMA"
	InvalidRequest      Code = "INVALID_REQUEST"
	PolicyDeny          Code = "POLICY_DENY"
	BudgetExceeded      Code = "BUDGET_EXCEEDED"
	InvalidApproval     Code = "INVALID_APPROVAL"
	CatalogUnavailable  Code = "CATALOG_UNAVAILABLE"
	UpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	PlanningFailed      Code = "PLANNING_FAILED"
	InternalError       Code = "INTERNAL_ERROR"
)

var httpStatus = map[Code]int{
	AliasUnknown:        http.StatusNotFound,
	UnsupportedSchema:   http.StatusConflict,
	InvalidRequest:      http.StatusBadRequest,
	PolicyDeny:          http.StatusConflict,
	BudgetExceeded:      http.StatusPaymentRequired,
	InvalidApproval:     http.StatusForbidden,
	CatalogUnavailable:  http.StatusServiceUnavailable,
	UpstreamUnavailable: http.StatusBadGateway,
	PlanningFailed:      http.StatusInternalServerError,
	InternalError:       http.StatusInternalServerError,
}

// Error is the single typed error type returned from every planner and
// facade operation that can fail in a way the client should be told about.
type Error struct {
	Code        Code
	Message     string
	Supported   []string
	RetryHintMs *int64
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// HTTPStatus returns the status code this error's taxonomy entry maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewAliasUnknown(alias string) *Error {
	return New(AliasUnknown, "unknown alias: "+alias)
}

func NewUnsupportedSchema(got string) *Error {
	return &Error{
		Code:      UnsupportedSchema,
		Message:   "unsupported schema_version: " + got,
		Supported: []string{"1.1"},
	}
}

func NewInvalidRequest(reason string) *Error {
	return New(InvalidRequest, reason)
}

func NewPolicyDeny(reason string) *Error {
	return New(PolicyDeny, reason)
}

func NewBudgetExceeded() *Error {
	return New(BudgetExceeded, "all candidates exceed the request budget")
}

func NewInvalidApproval(reason string) *Error {
	return New(InvalidApproval, reason)
}

func NewCatalogUnavailable() *Error {
	return New(CatalogUnavailable, "policy or catalog not loaded")
}

func NewUpstreamUnavailable() *Error {
	return New(UpstreamUnavailable, "all candidates are unavailable by health status")
}

func NewPlanningFailed(reason string) *Error {
	return New(PlanningFailed, reason)
}

func NewInternal(reason string) *Error {
	return New(InternalError, reason)
}

// WithRetryHint attaches retry_hint_ms to a 5xx-class error.
func (e *Error) WithRetryHint(ms int64) *Error {
	e.RetryHintMs = &ms
	return e
}

// As extracts an *Error from any error, matching the stdlib errors.As idiom.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
