package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/kv"
)

// Report counts what one reconcile pass found and fixed.
type Report struct {
	Appointments    int `json:"appointments"`
	Corrupt         int `json:"corrupt"`
	OrphansRemoved  int `json:"orphansRemoved"`
	StaleRemoved    int `json:"staleRemoved"`
	IndexesRestored int `json:"indexesRestored"`
}

// Reconciler repairs drift between appointment records and their patient
// and doctor index entries. Index entries pointing at a missing appointment
// are removed, as are entries filed under the wrong participant; missing
// entries are recreated from the primary record. Entries pointing at an
// undecodable record are left for manual repair.
type Reconciler struct {
	store  kv.Store
	logger zerolog.Logger
	dryRun bool
}

func NewReconciler(store kv.Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// DryRun makes Run count problems without writing.
func (r *Reconciler) DryRun(v bool) *Reconciler {
	r.dryRun = v
	return r
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report

	primaries, err := r.store.ScanPrefix(ctx, KeyPrefix)
	if err != nil {
		return rep, fmt.Errorf("scan appointments: %w", err)
	}
	byID := make(map[string]*Appointment, len(primaries))
	corrupt := make(map[string]bool)
	for _, e := range primaries {
		id := strings.TrimPrefix(e.Key, KeyPrefix)
		var a Appointment
		if err := json.Unmarshal(e.Value, &a); err != nil {
			r.logger.Warn().Err(err).Str("key", e.Key).Msg("undecodable appointment record")
			corrupt[id] = true
			rep.Corrupt++
			continue
		}
		byID[id] = &a
	}
	rep.Appointments = len(byID)

	present := make(map[string]bool)
	for _, idx := range []struct {
		prefix string
		role   Role
	}{
		{PatientIndexPrefix, RolePatient},
		{DoctorIndexPrefix, RoleDoctor},
	} {
		entries, err := r.store.ScanPrefix(ctx, idx.prefix)
		if err != nil {
			return rep, fmt.Errorf("scan %s: %w", idx.prefix, err)
		}
		for _, e := range entries {
			id := indexedID(e)
			if corrupt[id] {
				continue
			}
			a, ok := byID[id]
			if !ok {
				// The record may have been written after the primary scan.
				a, err = r.reload(ctx, id)
				switch {
				case err == nil:
					ok = true
				case errors.Is(err, ErrCorrupt):
					continue
				case !errors.Is(err, ErrNotFound):
					return rep, err
				}
			}
			switch {
			case !ok:
				rep.OrphansRemoved++
				r.logger.Info().Str("key", e.Key).Msg("removing orphaned appointment index")
			case e.Key != indexKey(idx.role, a):
				rep.StaleRemoved++
				r.logger.Info().Str("key", e.Key).Msg("removing stale appointment index")
			default:
				present[e.Key] = true
				continue
			}
			if r.dryRun {
				continue
			}
			if err := r.store.Delete(ctx, e.Key); err != nil {
				return rep, fmt.Errorf("delete %s: %w", e.Key, err)
			}
		}
	}

	var restore []kv.Entry
	for _, a := range byID {
		for _, role := range []Role{RolePatient, RoleDoctor} {
			key := indexKey(role, a)
			if present[key] {
				continue
			}
			ent, err := kv.JSONEntry(key, a.ID)
			if err != nil {
				return rep, err
			}
			restore = append(restore, ent)
			r.logger.Info().Str("key", key).Msg("restoring appointment index")
		}
	}
	rep.IndexesRestored = len(restore)
	if len(restore) > 0 && !r.dryRun {
		if err := r.store.SetMany(ctx, restore); err != nil {
			return rep, fmt.Errorf("restore indexes: %w", err)
		}
	}
	return rep, nil
}

// reload reads one appointment record directly, bypassing the snapshot taken
// at the start of the pass.
func (r *Reconciler) reload(ctx context.Context, id string) (*Appointment, error) {
	raw, err := r.store.Get(ctx, Key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", Key(id), err)
	}
	var a Appointment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, Key(id), err)
	}
	return &a, nil
}

func indexKey(role Role, a *Appointment) string {
	if role == RoleDoctor {
		return DoctorIndexKey(a.DoctorID, a.ID)
	}
	return PatientIndexKey(a.PatientID, a.ID)
}
