package search

import "fmt"

// ValidationError means the requirement itself is unusable. Nothing was
// attempted downstream.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid requirement: %s %s", e.Field, e.Reason)
}

// DependencyError means a backing service (embedder, vector index, database,
// evaluator) failed in a way that makes the whole search unanswerable.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// PartialEvaluationFailure means some candidates could not be evaluated but
// the search still completed with the rest. Callers treat it as a warning.
type PartialEvaluationFailure struct {
	Failed int
	Total  int
}

func (e *PartialEvaluationFailure) Error() string {
	return fmt.Sprintf("evaluation failed for %d of %d candidates", e.Failed, e.Total)
}
