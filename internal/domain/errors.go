package domain

import "errors"

// Error taxonomy shared by every engine. Callers add context with %w and
// test with errors.Is.
var (
	// ErrInsufficientData means too few observations for the requested statistic.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateInput covers zero or negative variance, singular covariance and zero weights.
	ErrDegenerateInput = errors.New("degenerate input")
	// ErrDependencyFit means the primary dependency model could not be fitted or sampled.
	// It is always recovered through the multivariate normal fallback.
	ErrDependencyFit = errors.New("dependency model fit failure")
	// ErrFoldExecution wraps a single fold's fit or predict failure.
	ErrFoldExecution = errors.New("fold execution failed")
	// ErrAllFoldsFailed is returned when no fold produced a result.
	ErrAllFoldsFailed = errors.New("all folds failed")
	// ErrInvalidConfiguration covers unknown policies, mismatched fold counts and
	// out-of-range parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
