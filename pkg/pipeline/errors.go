package pipeline

import "fmt"

// ProviderError wraps a failed collaborator call. Runs recover from it by
// falling back, so it only appears in logs and stage reasons.
type ProviderError struct {
	Provider string
	Stage    Stage
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RejectionError is returned by Run when the run is refused before any
// work starts. Err is budget.ErrRateLimited or budget.ErrBudgetExceeded.
type RejectionError struct {
	Reason string
	Err    error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("pipeline rejected: %s", e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }
