package middleware

import (
	"fmt"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// Recovery turns a handler panic into an internal error so the client gets
// the usual {"error": ...} body instead of a dropped connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				buf := make([]byte, 8<<10)
				buf = buf[:runtime.Stack(buf, false)]

				rid, _ := c.Get("request_id").(string)
				uid, _ := c.Get("user_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("user_id", uid).
					Str("route", c.Path()).
					Interface("panic", r).
					Bytes("stack", buf).
					Msg("handler panicked")

				err = apperr.Internal(c.Request().Method+" "+c.Path(), fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
