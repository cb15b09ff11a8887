package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telecare/telecare/internal/platform/kv"
)

const revokedKeyPrefix = "revoked_token:"

// revocationEntry stores metadata about a revoked token.
type revocationEntry struct {
	UserID    string    `json:"userId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RevocationList keeps revoked token ids (jti) in the record store so that
// logout holds across every server instance sharing the store. An entry is
// only needed until the token would have expired on its own.
type RevocationList struct {
	store kv.Store
	now   func() time.Time
}

func NewRevocationList(store kv.Store) *RevocationList {
	return &RevocationList{store: store, now: time.Now}
}

// Revoke adds a token id to the list.
func (l *RevocationList) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("revoke: empty token id")
	}
	return kv.SetJSON(ctx, l.store, revokedKeyPrefix+jti, revocationEntry{
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
	})
}

// IsRevoked reports whether jti has been revoked and is not yet expired.
func (l *RevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var e revocationEntry
	if err := kv.GetJSON(ctx, l.store, revokedKeyPrefix+jti, &e); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return l.now().Before(e.ExpiresAt), nil
}

// Purge removes entries whose tokens have expired. It returns the number of
// entries removed.
func (l *RevocationList) Purge(ctx context.Context) (int, error) {
	entries, err := l.store.ScanPrefix(ctx, revokedKeyPrefix)
	if err != nil {
		return 0, err
	}
	now := l.now()
	removed := 0
	for _, ent := range entries {
		var e revocationEntry
		if err := json.Unmarshal(ent.Value, &e); err != nil || !now.Before(e.ExpiresAt) {
			if err := l.store.Delete(ctx, ent.Key); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// RevokingVerifier rejects tokens on the revocation list after the wrapped
// verifier accepts them.
type RevokingVerifier struct {
	Next Verifier
	List *RevocationList
}

func (v RevokingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	id, err := v.Next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if id.TokenID == "" {
		return id, nil
	}
	revoked, err := v.List.IsRevoked(ctx, id.TokenID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	}
	return id, nil
}
