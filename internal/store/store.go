// Package store tracks the last-accepted manifest sequence number per
// device, the host-side anti-rollback check the embedded SUIT updater
// itself cannot perform statelessly.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRollback is returned by Advance when the candidate sequence number
// is not strictly greater than the one already on record for the
// device, i.e. the manifest being processed is stale or replayed.
var ErrRollback = errors.New("store: manifest sequence number is not newer than the last accepted one")

// SequenceStore records, per device, the sequence number of the last
// manifest accepted for it.
type SequenceStore interface {
	// Get returns the last-accepted sequence number for uid, and false
	// if no manifest has ever been accepted for that device.
	Get(ctx context.Context, uid uuid.UUID) (seq uint64, found bool, err error)

	// Advance records seq as the new last-accepted sequence number for
	// uid. It returns ErrRollback, without recording anything, if seq is
	// not strictly greater than the currently stored value.
	Advance(ctx context.Context, uid uuid.UUID, seq uint64) error

	Close() error
}
