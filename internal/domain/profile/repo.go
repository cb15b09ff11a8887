package profile

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Repository.Get when no profile exists.
var ErrNotFound = errors.New("profile not found")

type Repository interface {
	Get(ctx context.Context, id string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
	// List returns every decodable profile. Records that fail to decode are
	// skipped and reported through the repository's logger.
	List(ctx context.Context) ([]*Profile, error)
}
