package domain

import "context"

// ExecutionStore defines the contract for persisting execution records.
// It decouples the orchestrator from the underlying database (Redis, SQLite, memory).
type ExecutionStore interface {
	// Create inserts a new record. The ID field must be set by the caller.
	Create(ctx context.Context, e *Execution) error

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Execution, error)

	// Update applies fn to the current record and persists the result as one
	// read-modify-write. If fn returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*Execution) error) (*Execution, error)

	// Close releases resources.
	Close() error
}
