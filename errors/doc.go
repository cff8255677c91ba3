// Package errors provides structured error types for the asset runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type doubles as the recoverable failure signal that
// resource implementations return from Load and Reload: Kind is the failure
// code and ResourceValid says whether the object survived the failure.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindCorrupted).
//		ID("textures/rock.png").
//		Detail("truncated IDAT chunk").
//		ResourceValid(false).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfMemory(errors.PhaseDecode, need, budget, false)
//	err := errors.NotFound(errors.PhaseSource, "object", key)
//
// The manager recognizes failures with AsFailure. Any other error returned
// from a resource is treated as a programming error.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
