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

// Record store key layout. Index entries hold the appointment id as a JSON
// string.
const (
	KeyPrefix          = "appointment:"
	PatientIndexPrefix = "patient_appointment:"
	DoctorIndexPrefix  = "doctor_appointment:"
)

func Key(id string) string { return KeyPrefix + id }

func PatientIndexKey(patientID, id string) string {
	return PatientIndexPrefix + patientID + ":" + id
}

func DoctorIndexKey(doctorID, id string) string {
	return DoctorIndexPrefix + doctorID + ":" + id
}

func indexPrefix(role Role, userID string) string {
	if role == RoleDoctor {
		return DoctorIndexPrefix + userID + ":"
	}
	return PatientIndexPrefix + userID + ":"
}

// indexedID reads the appointment id from an index entry. Entries whose value
// is not a JSON string fall back to the id in the key.
func indexedID(e kv.Entry) string {
	var id string
	if err := json.Unmarshal(e.Value, &id); err == nil && id != "" {
		return id
	}
	return e.Key[strings.LastIndex(e.Key, ":")+1:]
}

type kvRepo struct {
	store  kv.Store
	logger zerolog.Logger
}

func NewKVRepo(store kv.Store, logger zerolog.Logger) Repository {
	return &kvRepo{store: store, logger: logger}
}

func (r *kvRepo) Get(ctx context.Context, id string) (*Appointment, error) {
	raw, err := r.store.Get(ctx, Key(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	var a Appointment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return &a, nil
}

func (r *kvRepo) Create(ctx context.Context, a *Appointment) error {
	entries, err := recordEntries(a)
	if err != nil {
		return err
	}
	if err := r.store.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("create appointment %s: %w", a.ID, err)
	}
	return nil
}

func recordEntries(a *Appointment) ([]kv.Entry, error) {
	primary, err := kv.JSONEntry(Key(a.ID), a)
	if err != nil {
		return nil, err
	}
	byPatient, err := kv.JSONEntry(PatientIndexKey(a.PatientID, a.ID), a.ID)
	if err != nil {
		return nil, err
	}
	byDoctor, err := kv.JSONEntry(DoctorIndexKey(a.DoctorID, a.ID), a.ID)
	if err != nil {
		return nil, err
	}
	return []kv.Entry{primary, byPatient, byDoctor}, nil
}

func (r *kvRepo) Update(ctx context.Context, a *Appointment) error {
	if err := kv.SetJSON(ctx, r.store, Key(a.ID), a); err != nil {
		return fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	return nil
}

func (r *kvRepo) IndexedIDs(ctx context.Context, role Role, userID string) ([]string, error) {
	entries, err := r.store.ScanPrefix(ctx, indexPrefix(role, userID))
	if err != nil {
		return nil, fmt.Errorf("scan %s appointments of %s: %w", role, userID, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, indexedID(e))
	}
	return ids, nil
}
