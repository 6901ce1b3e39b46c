// Package mcperrors provides the structured error types used throughout the
// module. Every error carries a JSON-RPC error code, a category for
// programmatic classification and optional context describing where it
// occurred. Timeout and cancellation are distinct categories that never map
// to wire-level error objects.
package mcperrors

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies an error for handling decisions.
type Category string

const (
	CategoryProtocol   Category = "protocol"
	CategoryTransport  Category = "transport"
	CategoryCapability Category = "capability"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryUsage      Category = "usage"
	CategoryInternal   Category = "internal"
)

// Context records where and when an error occurred.
type Context struct {
	RequestID string
	Method    string
	SessionID string
	Component string
	Operation string
	Timestamp time.Time
}

// MCPError is the interface implemented by all errors this module creates.
type MCPError interface {
	error

	// Code returns the JSON-RPC error code.
	Code() int

	// Message returns the human-readable message suitable for the wire.
	Message() string

	// Detail returns extra technical description kept off the wire.
	Detail() string

	// Data returns structured error data for the wire error object.
	Data() any

	// Category returns the classification of this error.
	Category() Category

	// Context returns where the error occurred, or nil.
	Context() *Context

	// WithContext returns a copy carrying ctx.
	WithContext(ctx *Context) MCPError

	// WithDetail returns a copy carrying additional detail.
	WithDetail(detail string) MCPError

	// Unwrap returns the underlying cause, if any.
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	detail   string
	data     any
	category Category
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.message, e.detail)
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Detail() string     { return e.detail }
func (e *baseError) Data() any          { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

func (e *baseError) WithContext(ctx *Context) MCPError {
	cp := *e
	cp.context = ctx
	return &cp
}

func (e *baseError) WithDetail(detail string) MCPError {
	cp := *e
	if cp.detail != "" {
		cp.detail = cp.detail + "; " + detail
	} else {
		cp.detail = detail
	}
	return &cp
}

// New creates an MCPError from its parts.
func New(code int, message string, category Category) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Newf creates an MCPError with a formatted message.
func Newf(code int, category Category, format string, args ...any) MCPError {
	return New(code, fmt.Sprintf(format, args...), category)
}

// Wrap creates an MCPError around an underlying cause.
func Wrap(cause error, code int, message string, category Category) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		cause:    cause,
		context:  &Context{Timestamp: time.Now()},
	}
}

// As extracts an MCPError from err's chain.
func As(err error) (MCPError, bool) {
	var me MCPError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, category Category) bool {
	if me, ok := As(err); ok {
		return me.Category() == category
	}
	return false
}

// IsCode reports whether err carries the given JSON-RPC code.
func IsCode(err error, code int) bool {
	if me, ok := As(err); ok {
		return me.Code() == code
	}
	return false
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool { return IsCategory(err, CategoryTimeout) }

// IsCancelled reports whether err is an explicit cancellation.
func IsCancelled(err error) bool { return IsCategory(err, CategoryCancelled) }

// IsTransport reports whether err is a transport failure, meaning no peer
// response will ever arrive for the affected requests.
func IsTransport(err error) bool { return IsCategory(err, CategoryTransport) }
