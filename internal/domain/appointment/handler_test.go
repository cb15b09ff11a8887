package appointment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(t, DoctorOnlyPolicy{})
	return NewHandler(f.svc), f, echo.New()
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithIdentity(context.Background(), &auth.Identity{UserID: userID}))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Book(t *testing.T) {
	h, _, e := newTestHandler(t)

	body := `{"doctorId":"d1","date":"2025-06-01","time":"09:00","notes":"cough"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(jsonRequest(http.MethodPost, "/appointments", body), "p1"), rec)

	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Appointment map[string]interface{} `json:"appointment"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Appointment["status"] != "pending" || resp.Appointment["notes"] != "cough" {
		t.Errorf("unexpected appointment: %v", resp.Appointment)
	}
	cost, ok := resp.Appointment["cost"].(float64)
	if !ok || cost < 5 || cost > 10 {
		t.Errorf("expected numeric cost in [5, 10], got %v", resp.Appointment["cost"])
	}
}

func TestHandler_Book_MissingFields(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(asUser(jsonRequest(http.MethodPost, "/appointments", `{"doctorId":"d1"}`), "p1"), httptest.NewRecorder())
	if err := h.Book(c); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	h, f, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(httptest.NewRequest(http.MethodGet, "/appointments", nil), "p1"), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"appointments":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}

	f.book(t, "p1", "d1")
	rec = httptest.NewRecorder()
	c = e.NewContext(asUser(httptest.NewRequest(http.MethodGet, "/appointments", nil), "d1"), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Appointments []View `json:"appointments"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Appointments) != 1 || resp.Appointments[0].OtherUserName != "Pat One" {
		t.Errorf("unexpected appointments: %+v", resp.Appointments)
	}
}

func TestHandler_Get(t *testing.T) {
	h, f, e := newTestHandler(t)
	a := f.book(t, "p1", "d1")

	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(httptest.NewRequest(http.MethodGet, "/", nil), "p1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID)
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(asUser(httptest.NewRequest(http.MethodGet, "/", nil), "p2"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID)
	if err := h.Get(c); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestHandler_SetStatus(t *testing.T) {
	h, f, e := newTestHandler(t)
	a := f.book(t, "p1", "d1")

	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(jsonRequest(http.MethodPut, "/", `{"status":"confirmed"}`), "d1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID)
	if err := h.SetStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Appointment Appointment `json:"appointment"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Appointment.Status != StatusConfirmed || resp.Appointment.UpdatedAt == nil {
		t.Errorf("unexpected appointment: %+v", resp.Appointment)
	}

	c = e.NewContext(asUser(jsonRequest(http.MethodPut, "/", `{"status":"cancelled"}`), "p1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID)
	if err := h.SetStatus(c); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for patient, got %v", err)
	}

	c = e.NewContext(asUser(jsonRequest(http.MethodPut, "/", `{"status":"confirmed"}`), "d1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if err := h.SetStatus(c); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
