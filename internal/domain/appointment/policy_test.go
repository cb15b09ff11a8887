package appointment

import (
	"testing"

	"github.com/telecare/telecare/internal/platform/apperr"
)

func TestPolicyFor(t *testing.T) {
	if p, err := PolicyFor(""); err != nil || p != (DoctorOnlyPolicy{}) {
		t.Errorf("expected doctor-only default, got %v (%v)", p, err)
	}
	if p, err := PolicyFor(PolicyStateMachine); err != nil || p != (StateMachinePolicy{}) {
		t.Errorf("expected state machine, got %v (%v)", p, err)
	}
	if _, err := PolicyFor("anything-goes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestDoctorOnlyPolicy(t *testing.T) {
	p := DoctorOnlyPolicy{}
	a := &Appointment{Status: StatusCompleted}

	if err := p.Authorize(a, RoleDoctor, StatusPending); err != nil {
		t.Errorf("doctor may set any status: %v", err)
	}
	for _, actor := range []Role{RolePatient, RoleNone} {
		if err := p.Authorize(a, actor, StatusCancelled); !apperr.Is(err, apperr.KindForbidden) {
			t.Errorf("actor %q: expected forbidden, got %v", actor, err)
		}
	}
}

func TestStateMachinePolicy(t *testing.T) {
	tests := []struct {
		from  Status
		to    Status
		actor Role
		want  apperr.Kind
		ok    bool
	}{
		{StatusPending, StatusConfirmed, RoleDoctor, 0, true},
		{StatusPending, StatusConfirmed, RolePatient, apperr.KindForbidden, false},
		{StatusPending, StatusCancelled, RolePatient, 0, true},
		{StatusPending, StatusCancelled, RoleDoctor, 0, true},
		{StatusPending, StatusCompleted, RoleDoctor, apperr.KindValidation, false},
		{StatusConfirmed, StatusCompleted, RolePatient, 0, true},
		{StatusConfirmed, StatusCompleted, RoleDoctor, 0, true},
		{StatusConfirmed, StatusCancelled, RoleDoctor, 0, true},
		{StatusConfirmed, StatusCancelled, RolePatient, apperr.KindForbidden, false},
		{StatusConfirmed, StatusPending, RoleDoctor, apperr.KindValidation, false},
		{StatusCancelled, StatusPending, RoleDoctor, apperr.KindValidation, false},
		{StatusCompleted, StatusCancelled, RoleDoctor, apperr.KindValidation, false},
		{StatusPending, "archived", RoleDoctor, apperr.KindValidation, false},
		{StatusPending, StatusConfirmed, RoleNone, apperr.KindForbidden, false},
	}
	p := StateMachinePolicy{}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to)+"/"+string(tt.actor), func(t *testing.T) {
			err := p.Authorize(&Appointment{Status: tt.from}, tt.actor, tt.to)
			if tt.ok {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !apperr.Is(err, tt.want) {
				t.Errorf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}
