package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the asset lifecycle the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // Resource.Load
	PhaseReload   Phase = "reload"   // Resource.Reload
	PhaseUnload   Phase = "unload"   // Resource.Unload
	PhaseGC       Phase = "gc"       // collection sweeps
	PhaseRegistry Phase = "registry" // manifest lookup/insert
	PhaseQueue    Phase = "queue"    // task scheduling
	PhaseSource   Phase = "source"   // reading asset bytes
	PhaseDecode   Phase = "decode"   // image/blob decoding
	PhaseCompile  Phase = "compile"  // shader compilation
	PhaseConfig   Phase = "config"   // configuration
	PhaseWatch    Phase = "watch"    // file watching
)

// Kind categorizes the error. For recoverable resource failures it is the
// failure code.
type Kind string

const (
	KindOutOfMemory    Kind = "out_of_memory"
	KindCorrupted      Kind = "corrupted"
	KindNotFound       Kind = "not_found"
	KindUnsupported    Kind = "unsupported"
	KindInvalidInput   Kind = "invalid_input"
	KindIO             Kind = "io"
	KindClosed         Kind = "closed"
	KindTimeout        Kind = "timeout"
	KindPanic          Kind = "panic"
	KindNotInitialized Kind = "not_initialized"
)

// Error is the structured error type used throughout the runtime.
//
// Returned from Resource.Load or Resource.Reload it is the recoverable
// failure signal: Kind carries the failure code and ResourceValid reports
// whether the resource object is still usable after the failure.
type Error struct {
	Value         any
	Cause         error
	Phase         Phase
	Kind          Kind
	ID            string
	Detail        string
	ResourceValid bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.ID != "" {
		b.WriteString(" for ")
		b.WriteString(e.ID)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.ResourceValid {
		b.WriteString(" (resource still valid)")
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Phase in target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// ID sets the asset identifier
func (b *Builder) ID(id string) *Builder {
	b.err.ID = id
	return b
}

// ResourceValid marks the resource as still usable after the failure
func (b *Builder) ResourceValid(valid bool) *Builder {
	b.err.ResourceValid = valid
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// AsFailure extracts a recoverable failure from err's chain.
func AsFailure(err error) (*Error, bool) {
	var e *Error
	if err == nil || !stderrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// IsOutOfMemory reports whether err carries the out-of-memory failure code.
func IsOutOfMemory(err error) bool {
	e, ok := AsFailure(err)
	return ok && e.Kind == KindOutOfMemory
}

// Convenience constructors for common error patterns

// OutOfMemory creates an out-of-memory failure
func OutOfMemory(phase Phase, requested, limit int64, resourceValid bool) *Error {
	return &Error{
		Phase:         phase,
		Kind:          KindOutOfMemory,
		Detail:        fmt.Sprintf("requested %d bytes exceeds budget of %d", requested, limit),
		Value:         requested,
		ResourceValid: resourceValid,
	}
}

// Corrupted creates a corrupted-resource failure
func Corrupted(phase Phase, detail string, cause error, resourceValid bool) *Error {
	return &Error{
		Phase:         phase,
		Kind:          KindCorrupted,
		Detail:        detail,
		Cause:         cause,
		ResourceValid: resourceValid,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// IO wraps an I/O failure
func IO(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Panic wraps a recovered panic value
func Panic(phase Phase, v any) *Error {
	cause, _ := v.(error)
	return &Error{
		Phase:  phase,
		Kind:   KindPanic,
		Detail: fmt.Sprintf("panic: %v", v),
		Value:  v,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
