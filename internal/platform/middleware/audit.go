package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
)

// AuditEntry records who touched which health record, when and how.
type AuditEntry struct {
	UserID     string
	Resource   string // profile, appointment, doctor
	ResourceID string
	Action     string // read, create, update
	IPAddress  string
	UserAgent  string
	Method     string
	Route      string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs an access event for every request that reaches a profile or
// appointment route. It must run after auth so the caller is known.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			resource := resourceFromRoute(c.Path())
			if resource == "" {
				return err
			}

			req := c.Request()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				Resource:   resource,
				ResourceID: resourceID(c),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Method:     req.Method,
				Route:      c.Path(),
				Timestamp:  time.Now().UTC(),
				StatusCode: c.Response().Status,
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			// The handler's error has not been rendered yet; report the
			// status it will produce.
			if err != nil {
				entry.StatusCode = statusOf(err)
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

// resourceFromRoute maps a registered route pattern to the record kind it
// exposes. Routes outside the health record surface return "".
func resourceFromRoute(route string) string {
	switch {
	case strings.Contains(route, "/appointments"):
		return "appointment"
	case strings.Contains(route, "/profile"):
		return "profile"
	case strings.HasSuffix(route, "/doctors"):
		return "doctor"
	default:
		return ""
	}
}

func resourceID(c echo.Context) string {
	for _, name := range []string{"id", "userId"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}

// httpMethodToAction maps HTTP methods to audit action codes.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
