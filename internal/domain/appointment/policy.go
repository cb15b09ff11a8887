package appointment

import (
	"fmt"

	"github.com/telecare/telecare/internal/platform/apperr"
)

const (
	PolicyDoctorOnly   = "doctor-only"
	PolicyStateMachine = "state-machine"
)

// StatusPolicy decides whether actor may move a to status to. It returns an
// apperr Forbidden or Validation error when the change is refused.
type StatusPolicy interface {
	Authorize(a *Appointment, actor Role, to Status) error
}

func PolicyFor(name string) (StatusPolicy, error) {
	switch name {
	case "", PolicyDoctorOnly:
		return DoctorOnlyPolicy{}, nil
	case PolicyStateMachine:
		return StateMachinePolicy{}, nil
	}
	return nil, fmt.Errorf("unknown status policy %q", name)
}

var errNotAuthorized = apperr.Forbidden("Not authorized to update this appointment")

// DoctorOnlyPolicy lets the appointment's doctor set any status, from any
// status. Nobody else may change it.
type DoctorOnlyPolicy struct{}

func (DoctorOnlyPolicy) Authorize(_ *Appointment, actor Role, _ Status) error {
	if actor != RoleDoctor {
		return errNotAuthorized
	}
	return nil
}

// transitions lists, per source status, the reachable statuses and who may
// take each edge.
var transitions = map[Status]map[Status][]Role{
	StatusPending: {
		StatusConfirmed: {RoleDoctor},
		StatusCancelled: {RolePatient, RoleDoctor},
	},
	StatusConfirmed: {
		StatusCompleted: {RolePatient, RoleDoctor},
		StatusCancelled: {RoleDoctor},
	},
}

// StateMachinePolicy enforces the appointment lifecycle:
// pending -> confirmed -> completed, with cancellation from pending by either
// party and from confirmed by the doctor.
type StateMachinePolicy struct{}

func (StateMachinePolicy) Authorize(a *Appointment, actor Role, to Status) error {
	if actor == RoleNone {
		return errNotAuthorized
	}
	if !to.Valid() {
		return apperr.Validation("Invalid status %q", to)
	}
	if a.Status.Terminal() {
		return apperr.Validation("Appointment is already %s", a.Status)
	}
	allowed, ok := transitions[a.Status][to]
	if !ok {
		return apperr.Validation("Cannot change appointment from %s to %s", a.Status, to)
	}
	for _, r := range allowed {
		if r == actor {
			return nil
		}
	}
	return errNotAuthorized
}

