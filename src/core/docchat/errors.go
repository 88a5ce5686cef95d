package docchat

import (
	"errors"
	"fmt"
)

// Error taxonomy. Refinements wrap their category, so callers can test
// either level with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrProvider       = errors.New("provider error")
	ErrPersistence    = errors.New("persistence error")
	ErrPartialFailure = errors.New("partial failure")
	ErrConflict       = errors.New("conflict")

	ErrUnsupportedFormat  = fmt.Errorf("%w: unsupported document format", ErrValidation)
	ErrExtractionFailure  = fmt.Errorf("%w: text extraction failed", ErrProvider)
	ErrRateLimited        = fmt.Errorf("%w: rate limited", ErrProvider)
	ErrEmbedding          = fmt.Errorf("%w: embedding failed", ErrProvider)
	ErrGeneration         = fmt.Errorf("%w: generation failed", ErrProvider)
	ErrVectorStore        = fmt.Errorf("%w: vector store failed", ErrProvider)
	ErrDimensionMismatch  = fmt.Errorf("%w: embedding dimension mismatch", ErrProvider)
	ErrCollectionNotFound = fmt.Errorf("%w: no document has been ingested for this instance", ErrNotFound)
)

// providerError tags err with kind unless err already belongs to the
// provider category.
func providerError(kind error, msg string, err error) error {
	if errors.Is(err, ErrProvider) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}

func persistenceError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrPersistence, err)
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPartialFailure):
		return "partial"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
