package appointment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Role is a user's part in one appointment.
type Role string

const (
	RoleNone    Role = ""
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Appointment is the primary record stored at appointment:<id>. Date and time
// are kept exactly as the client sent them.
type Appointment struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patientId"`
	DoctorID  string     `json:"doctorId"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	Notes     string     `json:"notes"`
	Status    Status     `json:"status"`
	Cost      Amount     `json:"cost"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// RoleOf returns the part userID plays in a.
func (a *Appointment) RoleOf(userID string) Role {
	switch userID {
	case "":
		return RoleNone
	case a.DoctorID:
		return RoleDoctor
	case a.PatientID:
		return RolePatient
	}
	return RoleNone
}

// ParticipantFor returns the participant id indexed under role.
func (a *Appointment) ParticipantFor(role Role) string {
	if role == RoleDoctor {
		return a.DoctorID
	}
	return a.PatientID
}

// Amount is a decimal written as a bare JSON number. Quoted numbers are
// accepted on input.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount { return Amount{Decimal: d} }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

// View is an appointment as listed to one of its participants, with the
// other participant's display name and type.
type View struct {
	Appointment
	OtherUserName string `json:"otherUserName"`
	OtherUserType string `json:"otherUserType"`
}

const (
	unknownName = "Unknown"
	unknownType = "unknown"
)

type BookingRequest struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Notes    string `json:"notes"`
}
