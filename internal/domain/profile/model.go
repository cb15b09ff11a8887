package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type UserType string

const (
	Patient UserType = "patient"
	Doctor  UserType = "doctor"
)

func (t UserType) Valid() bool { return t == Patient || t == Doctor }

type Subscription string

const (
	SubscriptionFree       Subscription = "free"
	SubscriptionIndividual Subscription = "individual"
	SubscriptionFamily     Subscription = "family"
	SubscriptionCorporate  Subscription = "corporate"
)

func (s Subscription) Valid() bool {
	switch s {
	case SubscriptionFree, SubscriptionIndividual, SubscriptionFamily, SubscriptionCorporate:
		return true
	}
	return false
}

// Doctor availability statuses. Patient status is free-form.
const (
	StatusAvailable = "available"
	StatusBusy      = "busy"
	StatusOffline   = "offline"

	StatusActive = "active"
)

var doctorStatuses = map[string]bool{
	StatusAvailable: true,
	StatusBusy:      true,
	StatusOffline:   true,
}

const (
	DefaultExpertise       = "General Practice"
	DefaultConsultationFee = "300"
)

// Profile is a user's profile record. The common fields apply to everyone;
// exactly one of Doctor and Patient is set, chosen by UserType. Keys the
// model does not know are kept in Extra and written back unchanged.
type Profile struct {
	ID           string
	Name         string
	Email        string
	UserType     UserType
	Status       string
	Subscription Subscription
	Points       int
	CreatedAt    time.Time
	UpdatedAt    *time.Time

	Doctor  *DoctorDetails
	Patient *PatientDetails

	Extra map[string]json.RawMessage
}

type DoctorDetails struct {
	Expertise       string
	ConsultationFee Fee
	Verified        bool
}

// PatientDetails holds the patient fields the service reads. Both are
// free text as entered by the patient; nil means the key is absent.
type PatientDetails struct {
	BloodType   *string
	DateOfBirth *string
}

// Keys owned by the typed model. Everything else lands in Extra.
var (
	commonKeys = map[string]bool{
		"id": true, "name": true, "email": true, "userType": true, "status": true,
		"subscription": true, "points": true, "createdAt": true, "updatedAt": true,
	}
	doctorKeys  = map[string]bool{"expertise": true, "consultationFee": true, "verified": true}
	patientKeys = map[string]bool{"bloodType": true, "dateOfBirth": true}
)

func ownedKey(t UserType, k string) bool {
	switch {
	case commonKeys[k]:
		return true
	case t == Doctor:
		return doctorKeys[k]
	case t == Patient:
		return patientKeys[k]
	}
	return false
}

// Validate checks the invariants of a profile about to be stored.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" || p.Email == "" {
		return fmt.Errorf("name and email are required")
	}
	if !p.UserType.Valid() {
		return fmt.Errorf("userType must be %q or %q", Patient, Doctor)
	}
	if !p.Subscription.Valid() {
		return fmt.Errorf("invalid subscription: %q", p.Subscription)
	}
	if p.Points < 0 {
		return fmt.Errorf("points must not be negative")
	}

	switch p.UserType {
	case Doctor:
		if p.Doctor == nil || p.Patient != nil {
			return fmt.Errorf("doctor profile must carry doctor details only")
		}
		if !doctorStatuses[p.Status] {
			return fmt.Errorf("doctor status must be one of available, busy, offline")
		}
		if p.Doctor.ConsultationFee.IsNegative() {
			return fmt.Errorf("consultationFee must not be negative")
		}
	case Patient:
		if p.Patient == nil || p.Doctor != nil {
			return fmt.Errorf("patient profile must carry patient details only")
		}
	}
	return nil
}

// MarshalJSON writes the profile as one flat object.
func (p Profile) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(p.Extra)+12)
	for k, v := range p.Extra {
		m[k] = v
	}
	m["id"] = p.ID
	m["name"] = p.Name
	m["email"] = p.Email
	m["userType"] = p.UserType
	m["status"] = p.Status
	m["subscription"] = p.Subscription
	m["points"] = p.Points
	m["createdAt"] = p.CreatedAt
	if p.UpdatedAt != nil {
		m["updatedAt"] = *p.UpdatedAt
	}

	if d := p.Doctor; d != nil {
		m["expertise"] = d.Expertise
		m["consultationFee"] = d.ConsultationFee
		m["verified"] = d.Verified
	}
	if pt := p.Patient; pt != nil {
		if pt.BloodType != nil {
			m["bloodType"] = *pt.BloodType
		}
		if pt.DateOfBirth != nil {
			m["dateOfBirth"] = *pt.DateOfBirth
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a flat profile object. The userType discriminator
// decides which details struct is populated.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Profile
	fields := []struct {
		key string
		dst interface{}
	}{
		{"id", &out.ID},
		{"name", &out.Name},
		{"email", &out.Email},
		{"userType", &out.UserType},
		{"status", &out.Status},
		{"subscription", &out.Subscription},
		{"points", &out.Points},
		{"createdAt", &out.CreatedAt},
		{"updatedAt", &out.UpdatedAt},
	}
	for _, f := range fields {
		if err := decodeField(raw, f.key, f.dst); err != nil {
			return err
		}
	}

	switch out.UserType {
	case Doctor:
		d := &DoctorDetails{}
		if err := decodeField(raw, "expertise", &d.Expertise); err != nil {
			return err
		}
		if err := decodeField(raw, "consultationFee", &d.ConsultationFee); err != nil {
			return err
		}
		if err := decodeField(raw, "verified", &d.Verified); err != nil {
			return err
		}
		out.Doctor = d
	case Patient:
		pt := &PatientDetails{}
		if err := decodeField(raw, "bloodType", &pt.BloodType); err != nil {
			return err
		}
		if err := decodeField(raw, "dateOfBirth", &pt.DateOfBirth); err != nil {
			return err
		}
		out.Patient = pt
	default:
		return fmt.Errorf("unknown userType %q", out.UserType)
	}

	for k, v := range raw {
		if ownedKey(out.UserType, k) {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	*p = out
	return nil
}

func decodeField(raw map[string]json.RawMessage, key string, dst interface{}) error {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Fee is a non-negative decimal amount. Clients send it as a string or a
// number; it is written back in the form it arrived in.
type Fee struct {
	decimal.Decimal
	raw json.RawMessage
}

func NewFee(s string) (Fee, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Fee{}, fmt.Errorf("invalid amount %q", s)
	}
	return Fee{Decimal: d}, nil
}

func (f Fee) MarshalJSON() ([]byte, error) {
	if len(f.raw) > 0 {
		return f.raw, nil
	}
	return json.Marshal(f.Decimal.String())
}

func (f *Fee) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount %s", data)
	}
	f.Decimal = d
	f.raw = append(json.RawMessage(nil), data...)
	return nil
}

// DoctorSummary is the public listing view of a doctor.
type DoctorSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Expertise string `json:"expertise"`
	Status    string `json:"status"`
}

func (p *Profile) Summary() DoctorSummary {
	s := DoctorSummary{ID: p.ID, Name: p.Name, Status: p.Status}
	if p.Doctor != nil {
		s.Expertise = p.Doctor.Expertise
	}
	if s.Expertise == "" {
		s.Expertise = DefaultExpertise
	}
	if s.Status == "" {
		s.Status = StatusOffline
	}
	return s
}

// CreateRequest carries the signup fields that become a profile.
type CreateRequest struct {
	Name           string                     `json:"name"`
	Email          string                     `json:"email"`
	UserType       UserType                   `json:"userType"`
	AdditionalInfo map[string]json.RawMessage `json:"additionalInfo"`
}
