package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// EventRecorder counts domain events for metrics.
type EventRecorder interface {
	DomainEvent(domain, event string)
}

type nopEvents struct{}

func (nopEvents) DomainEvent(string, string) {}

// immutableKeys may appear in an update patch only with their current value,
// so that clients can send back the whole profile they fetched.
var immutableKeys = []string{"id", "userType", "verified"}

// ignoredPatchKeys are server-stamped and silently dropped from patches.
var ignoredPatchKeys = map[string]bool{"createdAt": true, "updatedAt": true}

// additionalInfo may not set these; they are derived or defaulted.
var signupOwnedKeys = map[string]bool{
	"id": true, "name": true, "email": true, "userType": true, "status": true,
	"subscription": true, "points": true, "createdAt": true, "updatedAt": true,
	"verified": true, "expertise": true,
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
	events EventRecorder
	now    func() time.Time
}

// NewService builds the profile service. events may be nil.
func NewService(repo Repository, logger zerolog.Logger, events EventRecorder) *Service {
	if events == nil {
		events = nopEvents{}
	}
	return &Service{repo: repo, logger: logger, events: events, now: time.Now}
}

// ValidateCreate checks a signup request without touching the store, so
// callers can reject bad input before provisioning an account.
func (s *Service) ValidateCreate(req CreateRequest) error {
	_, err := s.build("pending", req)
	return err
}

// CreateProfile stores the profile for a newly registered user. A user gets
// exactly one profile; a second create is rejected.
func (s *Service) CreateProfile(ctx context.Context, userID string, req CreateRequest) (*Profile, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	p, err := s.build(userID, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.Get(ctx, userID); err == nil {
		return nil, apperr.Validation("Profile already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperr.Internal("create profile", err)
	}

	if err := s.repo.Put(ctx, p); err != nil {
		return nil, apperr.Internal("create profile", err)
	}
	s.events.DomainEvent("profile", "created_"+string(p.UserType))
	s.logger.Info().Str("user_id", p.ID).Str("user_type", string(p.UserType)).Msg("profile created")
	return p, nil
}

func (s *Service) build(userID string, req CreateRequest) (*Profile, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" || req.UserType == "" {
		return nil, apperr.Validation("Missing required fields")
	}
	if !req.UserType.Valid() {
		return nil, apperr.Validation("userType must be %q or %q", Patient, Doctor)
	}

	info := req.AdditionalInfo
	p := &Profile{
		ID:           userID,
		Name:         name,
		Email:        email,
		UserType:     req.UserType,
		Subscription: SubscriptionFree,
		Points:       0,
		CreatedAt:    s.now().UTC(),
	}
	for k, v := range info {
		if signupOwnedKeys[k] || ownedKey(req.UserType, k) {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}

	switch req.UserType {
	case Doctor:
		p.Status = StatusOffline
		d := &DoctorDetails{Expertise: DefaultExpertise}
		if specialty, err := infoString(info, "specialization"); err != nil {
			return nil, err
		} else if specialty != "" {
			d.Expertise = specialty
		}
		fee, err := infoFee(info)
		if err != nil {
			return nil, err
		}
		d.ConsultationFee = fee
		p.Doctor = d
	case Patient:
		p.Status = StatusActive
		pt := &PatientDetails{}
		var err error
		if pt.BloodType, err = infoText(info, "bloodType"); err != nil {
			return nil, err
		}
		if pt.DateOfBirth, err = infoText(info, "dateOfBirth"); err != nil {
			return nil, err
		}
		p.Patient = pt
	}

	if err := p.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	return p, nil
}

func infoString(info map[string]json.RawMessage, key string) (string, error) {
	v, ok := info[key]
	if !ok || isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", apperr.Validation("additionalInfo.%s must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// infoText returns a free-text field verbatim, or nil when it is absent.
func infoText(info map[string]json.RawMessage, key string) (*string, error) {
	v, ok := info[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, apperr.Validation("additionalInfo.%s must be a string", key)
	}
	return &s, nil
}

func infoFee(info map[string]json.RawMessage) (Fee, error) {
	v, ok := info["consultationFee"]
	if !ok || isNull(v) || bytes.Equal(bytes.TrimSpace(v), []byte(`""`)) {
		return NewFee(DefaultConsultationFee)
	}
	var f Fee
	if err := json.Unmarshal(v, &f); err != nil {
		return Fee{}, apperr.Validation("additionalInfo.consultationFee must be an amount")
	}
	return f, nil
}

// Load fetches a profile by id.
func (s *Service) Load(ctx context.Context, id string) (*Profile, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Profile not found")
		}
		return nil, apperr.Internal("get profile", err)
	}
	return p, nil
}

// GetProfile returns any user's profile to an authenticated caller.
func (s *Service) GetProfile(ctx context.Context, requesterID, targetID string) (*Profile, error) {
	if requesterID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	return s.Load(ctx, targetID)
}

// UpdateProfile merges a flat patch onto the requester's own profile.
func (s *Service) UpdateProfile(ctx context.Context, requesterID string, patch map[string]json.RawMessage) (*Profile, error) {
	if requesterID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	current, err := s.Load(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, apperr.Internal("encode profile", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(currentJSON, &merged); err != nil {
		return nil, apperr.Internal("encode profile", err)
	}

	for _, k := range immutableKeys {
		v, ok := patch[k]
		if !ok {
			continue
		}
		if !sameJSON(merged[k], v) {
			return nil, apperr.Validation("%s cannot be changed", k)
		}
	}
	for k, v := range patch {
		if ignoredPatchKeys[k] {
			continue
		}
		merged[k] = v
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, apperr.Validation("Invalid profile update")
	}
	var updated Profile
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		return nil, apperr.Validation("Invalid profile update: %s", err.Error())
	}
	now := s.now().UTC()
	updated.UpdatedAt = &now

	if err := updated.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if err := s.repo.Put(ctx, &updated); err != nil {
		return nil, apperr.Internal("update profile", err)
	}
	s.events.DomainEvent("profile", "updated")
	return &updated, nil
}

// sameJSON compares two JSON values semantically.
func sameJSON(a, b json.RawMessage) bool {
	if a == nil {
		return isNull(b)
	}
	var x, y interface{}
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	xb, _ := json.Marshal(x)
	yb, _ := json.Marshal(y)
	return bytes.Equal(xb, yb)
}

// ListDoctors returns every doctor profile, sorted by name.
func (s *Service) ListDoctors(ctx context.Context, requesterID string) ([]DoctorSummary, error) {
	if requesterID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	profiles, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list doctors", err)
	}
	doctors := make([]DoctorSummary, 0)
	for _, p := range profiles {
		if p.UserType != Doctor {
			continue
		}
		doctors = append(doctors, p.Summary())
	}
	sort.SliceStable(doctors, func(i, j int) bool {
		if doctors[i].Name != doctors[j].Name {
			return doctors[i].Name < doctors[j].Name
		}
		return doctors[i].ID < doctors[j].ID
	})
	return doctors, nil
}
