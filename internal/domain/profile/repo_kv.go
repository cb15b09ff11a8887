package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/kv"
)

// KeyPrefix is the record store prefix of profile records.
const KeyPrefix = "user_profile:"

func Key(id string) string { return KeyPrefix + id }

type kvRepo struct {
	store  kv.Store
	logger zerolog.Logger
}

func NewKVRepo(store kv.Store, logger zerolog.Logger) Repository {
	return &kvRepo{store: store, logger: logger}
}

func (r *kvRepo) Get(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	if err := kv.GetJSON(ctx, r.store, Key(id), &p); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return &p, nil
}

func (r *kvRepo) Put(ctx context.Context, p *Profile) error {
	if err := kv.SetJSON(ctx, r.store, Key(p.ID), p); err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	return nil
}

func (r *kvRepo) List(ctx context.Context) ([]*Profile, error) {
	entries, err := r.store.ScanPrefix(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	out := make([]*Profile, 0, len(entries))
	for _, e := range entries {
		var p Profile
		if err := json.Unmarshal(e.Value, &p); err != nil {
			r.logger.Warn().Err(err).Str("key", e.Key).Msg("skipping undecodable profile record")
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}
