package ingest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is returned when the index directory cannot be prepared.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotInitialized is returned when the index holds no vectors and the call cannot create it.
	ErrNotInitialized = errors.New("index not initialized")
	// ErrStorage is returned when the ledger or the vector index could not be persisted or loaded.
	ErrStorage = errors.New("storage error")
	// ErrExternalService is returned when the vector index (and the embedding provider behind it) fails to add chunks.
	ErrExternalService = errors.New("external service error")
)

// Error carries the context of a failed index operation. It unwraps to both
// its Kind sentinel and the underlying cause.
type Error struct {
	Op          string
	Dir         string
	Fingerprint string
	Kind        error
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.Dir)
	if e.Fingerprint != "" {
		fmt.Fprintf(&b, " (fingerprint %s)", e.Fingerprint)
	}
	fmt.Fprintf(&b, ": %v", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}
