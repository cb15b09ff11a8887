package profile

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

// Accounts provisions credentials for new users. It is nil when accounts are
// managed by an external identity provider.
type Accounts interface {
	CreateUser(ctx context.Context, nu auth.NewUser) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	DeleteUser(ctx context.Context, email string) error
}

type Handler struct {
	svc      *Service
	accounts Accounts
	logger   zerolog.Logger
}

func NewHandler(svc *Service, accounts Accounts, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, accounts: accounts, logger: logger}
}

// RegisterRoutes mounts signup and login on public and the profile routes
// on protected, which must already require authentication.
func (h *Handler) RegisterRoutes(public, protected *echo.Group) {
	public.POST("/signup", h.Signup)
	public.POST("/login", h.Login)

	protected.POST("/profile", h.CreateProfile)
	protected.GET("/profile/:userId", h.GetProfile)
	protected.PUT("/profile", h.UpdateProfile)
	protected.GET("/doctors", h.ListDoctors)
}

type signupRequest struct {
	Email          string                     `json:"email"`
	Password       string                     `json:"password"`
	Name           string                     `json:"name"`
	UserType       UserType                   `json:"userType"`
	AdditionalInfo map[string]json.RawMessage `json:"additionalInfo"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Signup(c echo.Context) error {
	if h.accounts == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Signup is handled by the identity provider")
	}
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	if req.Email == "" || req.Password == "" || req.Name == "" || req.UserType == "" {
		return apperr.Validation("Missing required fields")
	}

	create := CreateRequest{
		Name:           req.Name,
		Email:          req.Email,
		UserType:       req.UserType,
		AdditionalInfo: req.AdditionalInfo,
	}
	if err := h.svc.ValidateCreate(create); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.accounts.CreateUser(ctx, auth.NewUser{
		Email:    req.Email,
		Password: req.Password,
		Metadata: signupMetadata(create),
	})
	if err != nil {
		return err
	}

	if _, err := h.svc.CreateProfile(ctx, user.ID, create); err != nil {
		// Drop the account so the client can retry the same signup.
		if derr := h.accounts.DeleteUser(ctx, req.Email); derr != nil {
			h.logger.Error().Err(derr).Str("user_id", user.ID).
				Msg("profile not stored and account rollback failed; POST /profile can complete it")
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "User created successfully",
		"user":    user,
	})
}

// signupMetadata is the identity-side copy of the profile basics.
func signupMetadata(req CreateRequest) map[string]interface{} {
	md := map[string]interface{}{
		"name":         req.Name,
		"userType":     req.UserType,
		"subscription": SubscriptionFree,
		"points":       0,
	}
	if req.UserType == Doctor {
		md["status"] = StatusOffline
		specialty, _ := infoString(req.AdditionalInfo, "specialization")
		md["expertise"] = specialty
	}
	return md
}

func (h *Handler) Login(c echo.Context) error {
	if h.accounts == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Login is handled by the identity provider")
	}
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return apperr.Validation("Missing required fields")
	}
	sess, err := h.accounts.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// CreateProfile lets an authenticated identity without a profile create its
// own. Identities provisioned outside signup use this.
func (h *Handler) CreateProfile(c echo.Context) error {
	ctx := c.Request().Context()
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	if req.Email == "" {
		req.Email = auth.EmailFromContext(ctx)
	}
	p, err := h.svc.CreateProfile(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"profile": p})
}

func (h *Handler) GetProfile(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.GetProfile(ctx, auth.UserIDFromContext(ctx), c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"profile": p})
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	ctx := c.Request().Context()
	var patch map[string]json.RawMessage
	if err := c.Bind(&patch); err != nil {
		return apperr.Validation("Invalid request body")
	}
	p, err := h.svc.UpdateProfile(ctx, auth.UserIDFromContext(ctx), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"profile": p})
}

func (h *Handler) ListDoctors(c echo.Context) error {
	ctx := c.Request().Context()
	doctors, err := h.svc.ListDoctors(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Body("doctors", doctors, pagination.FromContext(c)))
}
