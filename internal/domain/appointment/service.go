package appointment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/profile"
	"github.com/telecare/telecare/internal/platform/apperr"
)

// Profiles resolves user profiles. Load returns apperr errors.
type Profiles interface {
	Load(ctx context.Context, id string) (*profile.Profile, error)
}

// EventRecorder counts domain events for metrics.
type EventRecorder interface {
	DomainEvent(domain, event string)
}

type nopEvents struct{}

func (nopEvents) DomainEvent(string, string) {}

type Service struct {
	repo     Repository
	profiles Profiles
	pricer   Pricer
	policy   StatusPolicy
	logger   zerolog.Logger
	events   EventRecorder
	now      func() time.Time
	newID    func() string
}

// NewService builds the appointment service. events may be nil.
func NewService(repo Repository, profiles Profiles, pricer Pricer, policy StatusPolicy, logger zerolog.Logger, events EventRecorder) *Service {
	if events == nil {
		events = nopEvents{}
	}
	return &Service{
		repo:     repo,
		profiles: profiles,
		pricer:   pricer,
		policy:   policy,
		logger:   logger,
		events:   events,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Book creates a pending appointment between the calling patient and a doctor.
func (s *Service) Book(ctx context.Context, patientID string, req BookingRequest) (*Appointment, error) {
	if patientID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	if req.DoctorID == "" || req.Date == "" || req.Time == "" {
		return nil, apperr.Validation("Missing required fields")
	}

	caller, err := s.profiles.Load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if caller.UserType != profile.Patient {
		return nil, apperr.Forbidden("Only patients can book appointments")
	}

	doctor, err := s.profiles.Load(ctx, req.DoctorID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("Doctor not found")
		}
		return nil, err
	}
	if doctor.UserType != profile.Doctor {
		return nil, apperr.Validation("doctorId does not refer to a doctor")
	}

	cost, err := s.pricer.Price(ctx, doctor)
	if err != nil {
		return nil, apperr.Internal("price appointment", err)
	}

	a := &Appointment{
		ID:        s.newID(),
		PatientID: patientID,
		DoctorID:  doctor.ID,
		Date:      req.Date,
		Time:      req.Time,
		Notes:     req.Notes,
		Status:    StatusPending,
		Cost:      NewAmount(cost),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, apperr.Internal("book appointment", err)
	}
	s.events.DomainEvent("appointment", "booked")
	s.logger.Info().
		Str("appointment_id", a.ID).
		Str("patient_id", a.PatientID).
		Str("doctor_id", a.DoctorID).
		Msg("appointment booked")
	return a, nil
}

// List returns the caller's appointments, newest first, each with the other
// participant's name and type. Index entries whose appointment is missing,
// corrupt, or not the caller's are skipped.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	me, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	role := RolePatient
	if me.UserType == profile.Doctor {
		role = RoleDoctor
	}

	ids, err := s.repo.IndexedIDs(ctx, role, userID)
	if err != nil {
		return nil, apperr.Internal("list appointments", err)
	}

	views := make([]View, 0, len(ids))
	others := make(map[string]*profile.Profile)
	for _, id := range ids {
		a, err := s.repo.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			s.logger.Debug().Str("appointment_id", id).Msg("skipping index entry without appointment")
			continue
		case errors.Is(err, ErrCorrupt):
			s.logger.Warn().Err(err).Str("appointment_id", id).Msg("skipping undecodable appointment")
			continue
		case err != nil:
			return nil, apperr.Internal("list appointments", err)
		}
		if a.ParticipantFor(role) != userID {
			s.logger.Warn().Str("appointment_id", id).Str("user_id", userID).Msg("skipping stale index entry")
			continue
		}
		views = append(views, s.view(ctx, a, role, others))
	}

	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

// view enriches a with the participant opposite role. cache memoizes profile
// lookups within one listing.
func (s *Service) view(ctx context.Context, a *Appointment, role Role, cache map[string]*profile.Profile) View {
	otherID := a.DoctorID
	if role == RoleDoctor {
		otherID = a.PatientID
	}
	v := View{Appointment: *a, OtherUserName: unknownName, OtherUserType: unknownType}

	other, ok := cache[otherID]
	if !ok {
		p, err := s.profiles.Load(ctx, otherID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			s.logger.Warn().Err(err).Str("user_id", otherID).Msg("participant lookup failed")
		}
		other = p
		if cache != nil {
			cache[otherID] = p
		}
	}
	if other != nil {
		if other.Name != "" {
			v.OtherUserName = other.Name
		}
		if other.UserType != "" {
			v.OtherUserType = string(other.UserType)
		}
	}
	return v
}

// Get returns one appointment to either of its participants.
func (s *Service) Get(ctx context.Context, userID, id string) (*View, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	role := a.RoleOf(userID)
	if role == RoleNone {
		return nil, apperr.Forbidden("Not authorized to view this appointment")
	}
	v := s.view(ctx, a, role, nil)
	return &v, nil
}

func (s *Service) load(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Appointment not found")
		}
		return nil, apperr.Internal("get appointment", err)
	}
	return a, nil
}

// SetStatus changes an appointment's status when the configured policy
// allows the caller to.
func (s *Service) SetStatus(ctx context.Context, userID, id string, to Status) (*Appointment, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := a.RoleOf(userID)
	if err := s.policy.Authorize(a, actor, to); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, apperr.Validation("Invalid status %q", to)
	}

	from := a.Status
	now := s.now().UTC()
	a.Status = to
	a.UpdatedAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, apperr.Internal("update appointment", err)
	}
	s.events.DomainEvent("appointment", "status_"+string(to))
	s.logger.Info().
		Str("appointment_id", a.ID).
		Str("user_id", userID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("appointment status changed")
	return a, nil
}
