package appointment

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the appointment routes on protected, which must
// already require authentication.
func (h *Handler) RegisterRoutes(protected *echo.Group) {
	protected.POST("/appointments", h.Book)
	protected.GET("/appointments", h.List)
	protected.GET("/appointments/:id", h.Get)
	protected.PUT("/appointments/:id", h.SetStatus)
}

func (h *Handler) Book(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	ctx := c.Request().Context()
	a, err := h.svc.Book(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"appointment": a})
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	views, err := h.svc.List(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Body("appointments", views, pagination.FromContext(c)))
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.svc.Get(ctx, auth.UserIDFromContext(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"appointment": v})
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	ctx := c.Request().Context()
	a, err := h.svc.SetStatus(ctx, auth.UserIDFromContext(ctx), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"appointment": a})
}
