package user

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/session"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

// Handler exposes the authentication endpoints.
type Handler struct {
	svc      *UserService
	sessions *session.Service
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, sessions *session.Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, logger: logger}
}

// SignupRequest request body for the register endpoint.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileResponse struct {
	Message string         `json:"message,omitempty"`
	User    entity.Profile `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	u, err := h.svc.Register(r.Context(), SignupInput(req))
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, ProfileResponse{Message: "registration completed", User: u.Profile()})
}

// LoginRequest accepts a username or an email as identifier.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	Message string         `json:"message"`
	Token   session.Token  `json:"session"`
	User    entity.Profile `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	u, err := h.svc.AuthenticatePassword(r.Context(), identifier, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "identifier", identifier, "err", err)
		apperr.Write(w, h.logger, err)
		return
	}
	tok, err := h.sessions.Issue(session.Identity{ID: u.ID, Username: u.Username, IsActive: u.IsActive, IsAdmin: u.IsAdmin, Version: u.Version})
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, LoginResponse{Message: "login successful", Token: tok, User: u.Profile()})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := session.PrincipalFrom(r.Context())
	if !ok {
		apperr.Write(w, h.logger, apperr.Unauthenticated("authentication required"))
		return
	}
	u, err := h.svc.Get(r.Context(), p.UserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, u.Profile())
}

type VerifyRequest struct {
	Token string `json:"token"`
}

type VerifyResponse struct {
	Valid bool           `json:"valid"`
	User  entity.Profile `json:"user"`
}

// Verify checks a token passed in the body or the Authorization header.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if r.ContentLength != 0 {
		if err := utilities.DecodeJSON(r, &req); err != nil {
			apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
			return
		}
	}
	if strings.TrimSpace(req.Token) != "" {
		r.Header.Set("Authorization", "Bearer "+req.Token)
	}
	p, _, err := h.sessions.Authenticate(r, h.svc)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	u, err := h.svc.Get(r.Context(), p.UserID)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: u.Profile()})
}

// Logout revokes the presented token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := session.PrincipalFrom(r.Context())
	if !ok {
		apperr.Write(w, h.logger, apperr.Unauthenticated("authentication required"))
		return
	}
	if err := h.sessions.Revoke(r.Context(), p); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		apperr.Write(w, h.logger, apperr.Unauthenticated("authentication required"))
		return
	}
	var req ChangePasswordRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	if err := h.svc.ChangePassword(r.Context(), tc, req.CurrentPassword, req.NewPassword); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated, sign in again"})
}
