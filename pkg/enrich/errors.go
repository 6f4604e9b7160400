package enrich

import "fmt"

// EmbeddingError reports a failure to embed one mention. Mention-level
// failures do not abort a batch: the engine records the error, skips every
// triple touching the mention, and keeps processing.
type EmbeddingError struct {
	Mention string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed mention %q: %v", e.Mention, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ExternalStoreError reports a failure of the backing graph store. Store
// failures abort the whole batch; the enclosing transaction rolls back so
// the graph keeps no partial writes from it.
type ExternalStoreError struct {
	Op  string
	Err error
}

func (e *ExternalStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *ExternalStoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &ExternalStoreError{Op: op, Err: err}
}
