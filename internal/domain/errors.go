package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Error kinds. Every error returned by a public operation wraps one of these.
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid deployment state transition")
	ErrStorageFailure    = errors.New("storage failure")
	ErrCorrupt           = errors.New("corrupt blob")

	// Not found errors
	ErrToolNotFound       = fmt.Errorf("tool %w", ErrNotFound)
	ErrDeploymentNotFound = fmt.Errorf("deployment %w", ErrNotFound)
	ErrBlobNotFound       = fmt.Errorf("blob %w", ErrNotFound)
	ErrRefNotFound        = fmt.Errorf("ref %w", ErrNotFound)
	ErrNamespaceNotFound  = fmt.Errorf("namespace %w", ErrNotFound)

	// Validation errors
	ErrInvalidLocator   = errors.New("invalid blob locator")
	ErrInvalidRefName   = errors.New("invalid ref name")
	ErrInvalidToolID    = errors.New("invalid tool id")
	ErrInvalidVersion   = errors.New("invalid deployment version")
	ErrInvalidPath      = errors.New("invalid archive path")
	ErrEmptyContent     = errors.New("content source is empty")
	ErrUnknownSource    = errors.New("unknown content source")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigLoadFailed = errors.New("failed to load configuration")

	// Authentication errors
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing bearer token")

	// ErrDeploymentConflict is returned by tool stores when a compare-and-swap
	// observes a state other than the expected one.
	ErrDeploymentConflict = errors.New("deployment was modified concurrently")
)
