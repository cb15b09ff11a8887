package appointment

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Repository.Get when no appointment exists.
	ErrNotFound = errors.New("appointment not found")
	// ErrCorrupt is returned by Repository.Get when the stored record cannot
	// be decoded.
	ErrCorrupt = errors.New("appointment record is corrupt")
)

type Repository interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	// Create writes the appointment together with its patient and doctor
	// index entries, all or nothing.
	Create(ctx context.Context, a *Appointment) error
	// Update overwrites the primary record. Participants never change, so
	// the index entries stay valid.
	Update(ctx context.Context, a *Appointment) error
	// IndexedIDs returns the appointment ids indexed for userID in role.
	IndexedIDs(ctx context.Context, role Role, userID string) ([]string, error)
}
