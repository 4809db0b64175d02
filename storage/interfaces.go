package storage

import (
	"context"
	"errors"
	"fmt"

	"salefeed-relay/models"
)

var (
	// ErrDuplicateKey reports that a (steamid, market_name) pair already exists.
	ErrDuplicateKey = errors.New("duplicate listing key")
	// ErrTransactionAborted reports that a batch was rolled back in full.
	ErrTransactionAborted = errors.New("transaction aborted")
)

// abortedError ties ErrTransactionAborted to the failure that caused it so
// callers can test for both with errors.Is.
type abortedError struct {
	cause error
}

func (e *abortedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransactionAborted, e.cause)
}

func (e *abortedError) Is(target error) bool {
	return target == ErrTransactionAborted
}

func (e *abortedError) Unwrap() error {
	return e.cause
}

func aborted(cause error) error {
	return &abortedError{cause: cause}
}

// Store is the Record Store every backend must satisfy.
type Store interface {
	// InsertIfAbsent adds l and sets l.ID, or fails with ErrDuplicateKey.
	InsertIfAbsent(ctx context.Context, l *models.Listing) error
	// BulkInsert adds every listing in one transaction. Any key collision,
	// against stored rows or within the batch, rolls back the whole batch
	// with an error matching both ErrTransactionAborted and ErrDuplicateKey.
	BulkInsert(ctx context.Context, listings []*models.Listing) error
	// InsertNew adds only listings whose key is not yet present, in one
	// transaction, and returns how many were added.
	InsertNew(ctx context.Context, listings []*models.Listing) (int, error)
	// All returns every stored listing ordered by id.
	All(ctx context.Context) ([]*models.Listing, error)
	// Clear deletes every listing and returns how many were removed.
	// Identifiers are never reused afterwards.
	Clear(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
