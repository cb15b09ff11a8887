package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/domain/profile"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/kv"
)

type fixture struct {
	svc      *Service
	profiles *profile.Service
	store    *kv.MemoryStore
}

func newFixture(t *testing.T, policy StatusPolicy) *fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	profiles := profile.NewService(profile.NewKVRepo(store, zerolog.Nop()), zerolog.Nop(), nil)
	pricer, err := NewPricer(PricingRandom, "5", "10")
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(NewKVRepo(store, zerolog.Nop()), profiles, pricer, policy, zerolog.Nop(), nil)

	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("appt-%02d", seq)
	}

	ctx := context.Background()
	for _, p := range []struct {
		id, name string
		typ      profile.UserType
	}{
		{"p1", "Pat One", profile.Patient},
		{"p2", "Pat Two", profile.Patient},
		{"d1", "Dr. One", profile.Doctor},
		{"d2", "Dr. Two", profile.Doctor},
	} {
		if _, err := profiles.CreateProfile(ctx, p.id, profile.CreateRequest{
			Name: p.name, Email: p.id + "@example.com", UserType: p.typ,
		}); err != nil {
			t.Fatalf("create profile %s: %v", p.id, err)
		}
	}
	return &fixture{svc: svc, profiles: profiles, store: store}
}

func (f *fixture) book(t *testing.T, patient, doctor string) *Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), patient, BookingRequest{
		DoctorID: doctor, Date: "2025-06-01", Time: "09:00",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return a
}

func TestService_Book(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()

	a := f.book(t, "p1", "d1")
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.Cost.LessThan(decimal.NewFromInt(5)) || a.Cost.GreaterThan(decimal.NewFromInt(10)) {
		t.Errorf("cost %s outside [5, 10]", a.Cost.String())
	}
	if a.Notes != "" || a.UpdatedAt != nil {
		t.Errorf("unexpected fields: %+v", a)
	}

	for _, key := range []string{Key(a.ID), PatientIndexKey("p1", a.ID), DoctorIndexKey("d1", a.ID)} {
		if _, err := f.store.Get(ctx, key); err != nil {
			t.Errorf("expected %s to be written: %v", key, err)
		}
	}
	raw, _ := f.store.Get(ctx, PatientIndexKey("p1", a.ID))
	if string(raw) != `"`+a.ID+`"` {
		t.Errorf("expected index value to be the JSON id, got %s", raw)
	}

	for _, user := range []string{"p1", "d1"} {
		views, err := f.svc.List(ctx, user)
		if err != nil {
			t.Fatalf("list %s: %v", user, err)
		}
		if len(views) != 1 || views[0].ID != a.ID {
			t.Errorf("%s: expected the booked appointment, got %+v", user, views)
		}
	}
}

func TestService_BookErrors(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  string
		req     BookingRequest
		want    apperr.Kind
		wantMsg string
	}{
		{"no identity", "", BookingRequest{DoctorID: "d1", Date: "d", Time: "t"}, apperr.KindUnauthorized, "Unauthorized"},
		{"missing date", "p1", BookingRequest{DoctorID: "d1", Time: "t"}, apperr.KindValidation, "Missing required fields"},
		{"missing time", "p1", BookingRequest{DoctorID: "d1", Date: "d"}, apperr.KindValidation, "Missing required fields"},
		{"missing doctor", "p1", BookingRequest{Date: "d", Time: "t"}, apperr.KindValidation, "Missing required fields"},
		{"caller without profile", "ghost", BookingRequest{DoctorID: "d1", Date: "d", Time: "t"}, apperr.KindNotFound, "Profile not found"},
		{"doctor books", "d2", BookingRequest{DoctorID: "d1", Date: "d", Time: "t"}, apperr.KindForbidden, "Only patients can book appointments"},
		{"unknown doctor", "p1", BookingRequest{DoctorID: "nope", Date: "d", Time: "t"}, apperr.KindNotFound, "Doctor not found"},
		{"patient as doctor", "p1", BookingRequest{DoctorID: "p2", Date: "d", Time: "t"}, apperr.KindValidation, "doctorId does not refer to a doctor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, tt.caller, tt.req)
			if !apperr.Is(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, ae.Message)
			}
		})
	}
	if f.store.Len() != 4 {
		t.Errorf("failed bookings must not write, store has %d records", f.store.Len())
	}
}

func TestService_BookPricerFailure(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	f.svc.pricer = PricerFunc(func(context.Context, *profile.Profile) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("pricing offline")
	})
	_, err := f.svc.Book(context.Background(), "p1", BookingRequest{DoctorID: "d1", Date: "d", Time: "t"})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected internal error, got %v", err)
	}
}

func TestService_ListEmpty(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	views, err := f.svc.List(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if views == nil || len(views) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", views)
	}

	if _, err := f.svc.List(context.Background(), "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found for user without profile, got %v", err)
	}
}

func TestService_ListEnrichesAndSorts(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()

	first := f.book(t, "p1", "d1")
	second := f.book(t, "p1", "d2")
	f.book(t, "p2", "d1")

	views, err := f.svc.List(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(views))
	}
	if views[0].ID != second.ID || views[1].ID != first.ID {
		t.Errorf("expected newest first, got %s, %s", views[0].ID, views[1].ID)
	}
	if views[0].OtherUserName != "Dr. Two" || views[0].OtherUserType != "doctor" {
		t.Errorf("unexpected enrichment: %+v", views[0])
	}

	views, _ = f.svc.List(ctx, "d1")
	if len(views) != 2 {
		t.Fatalf("expected 2 appointments for d1, got %d", len(views))
	}
	for _, v := range views {
		if v.OtherUserType != "patient" {
			t.Errorf("doctor view should name the patient, got %+v", v)
		}
	}
}

func TestService_ListSkipsUnresolvable(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()

	kept := f.book(t, "p1", "d1")
	gone := f.book(t, "p1", "d1")
	broken := f.book(t, "p1", "d1")
	f.store.Delete(ctx, Key(gone.ID))
	f.store.Set(ctx, Key(broken.ID), []byte("{oops"))
	// index entry filed under p1 for an appointment that belongs to p2
	other := f.book(t, "p2", "d1")
	kv.SetJSON(ctx, f.store, PatientIndexKey("p1", other.ID), other.ID)

	views, err := f.svc.List(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 || views[0].ID != kept.ID {
		t.Errorf("expected only %s, got %+v", kept.ID, views)
	}
}

func TestService_ListUnknownCounterparty(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()
	a := f.book(t, "p1", "d1")
	f.store.Delete(ctx, profile.Key("d1"))

	views, err := f.svc.List(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].ID != a.ID {
		t.Fatalf("unexpected views: %+v", views)
	}
	if views[0].OtherUserName != "Unknown" || views[0].OtherUserType != "unknown" {
		t.Errorf("expected unknown counterparty, got %+v", views[0])
	}
}

func TestService_Get(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()
	a := f.book(t, "p1", "d1")

	v, err := f.svc.Get(ctx, "d1", a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OtherUserName != "Pat One" {
		t.Errorf("expected patient name, got %s", v.OtherUserName)
	}
	if _, err := f.svc.Get(ctx, "p2", a.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for non-participant, got %v", err)
	}
	if _, err := f.svc.Get(ctx, "p1", "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_SetStatusDoctorOnly(t *testing.T) {
	f := newFixture(t, DoctorOnlyPolicy{})
	ctx := context.Background()
	a := f.book(t, "p1", "d1")

	for _, user := range []string{"p1", "p2", "d2"} {
		if _, err := f.svc.SetStatus(ctx, user, a.ID, StatusCancelled); !apperr.Is(err, apperr.KindForbidden) {
			t.Errorf("%s: expected forbidden, got %v", user, err)
		}
	}

	updated, err := f.svc.SetStatus(ctx, "d1", a.ID, StatusConfirmed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusConfirmed || updated.UpdatedAt == nil {
		t.Errorf("unexpected appointment: %+v", updated)
	}

	// any enum status is accepted from any status
	if _, err := f.svc.SetStatus(ctx, "d1", a.ID, StatusPending); err != nil {
		t.Errorf("doctor-only policy should not check transitions: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, "d1", a.ID, "archived"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, "d1", "missing", StatusConfirmed); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	for _, user := range []string{"p1", "d1"} {
		views, _ := f.svc.List(ctx, user)
		if len(views) != 1 || views[0].Status != StatusPending {
			t.Errorf("%s: expected the latest status in listing, got %+v", user, views)
		}
	}
}

func TestService_SetStatusStateMachine(t *testing.T) {
	f := newFixture(t, StateMachinePolicy{})
	ctx := context.Background()

	a := f.book(t, "p1", "d1")
	if _, err := f.svc.SetStatus(ctx, "p1", a.ID, StatusConfirmed); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("patient cannot confirm, got %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, "d1", a.ID, StatusConfirmed); err != nil {
		t.Fatalf("doctor confirms: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, "p1", a.ID, StatusCompleted); err != nil {
		t.Fatalf("patient completes: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, "d1", a.ID, StatusCancelled); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("completed is terminal, got %v", err)
	}

	b := f.book(t, "p1", "d1")
	if _, err := f.svc.SetStatus(ctx, "p1", b.ID, StatusCancelled); err != nil {
		t.Errorf("patient may cancel a pending appointment: %v", err)
	}
}
