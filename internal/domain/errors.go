package domain

import "errors"

// Error taxonomy shared across the ingest and serving paths. Callers match
// with errors.Is; wrap with fmt.Errorf("%w: ...") to add context.
var (
	// ErrTokenNotFound: the requested symbol is not in the tracked set.
	ErrTokenNotFound = errors.New("token not found")

	// ErrInvalidParameters: a caller-supplied window or interval is unusable.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrSourceUnavailable: transport-level failure against the subgraph.
	// Retryable on the next poll cycle.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrSourceSchema: the subgraph answered but not in the expected shape.
	// Not retryable; the affected token is skipped for the cycle.
	ErrSourceSchema = errors.New("unexpected price source response")

	// ErrStoreUnavailable: the persistence layer failed.
	ErrStoreUnavailable = errors.New("price store unavailable")
)
