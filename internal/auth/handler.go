package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/formworks-app/formworks/internal/platform/httpx"
	"github.com/formworks-app/formworks/internal/shared"
)

// BaselineProvisioner attaches the base privilege to first-time users.
type BaselineProvisioner interface {
	EnsureBaseline(ctx context.Context, userID string) error
}

// Handler manages login and logout endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	sessions    *shared.SessionManager
	csrf        *shared.CSRFManager
	provisioner BaselineProvisioner
	accessLog   *shared.AccessLogger
	validator   *validator.Validate
}

// NewHandler builds a Handler instance. provisioner and accessLog may be nil.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, provisioner BaselineProvisioner, accessLog *shared.AccessLogger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		sessions:    sessions,
		csrf:        csrf,
		provisioner: provisioner,
		accessLog:   accessLog,
		validator:   validator.New(),
	}
}

// MountRoutes registers authentication routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrf.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "session unavailable")
		return
	}
	sess.SetUser(user.ID)

	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, time.Now().Add(h.sessions.TTL()), remoteIP(r), r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	if h.provisioner != nil {
		if err := h.provisioner.EnsureBaseline(r.Context(), user.ID); err != nil {
			h.logger.Error("ensure baseline privilege", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	if h.accessLog != nil {
		if err := h.accessLog.Record(r.Context(), shared.AccessLog{UserID: user.ID, Action: shared.LogActionLogin}); err != nil {
			h.logger.Warn("record login", slog.Any("error", err))
		}
	}

	httpx.JSON(w, http.StatusOK, loginResponse{UserID: user.ID, Email: user.Email, Name: user.Name})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	userID := sess.User()
	if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	if h.accessLog != nil {
		if err := h.accessLog.Record(r.Context(), shared.AccessLog{UserID: userID, Action: shared.LogActionLogout}); err != nil {
			h.logger.Warn("record logout", slog.Any("error", err))
		}
	}
	h.sessions.Destroy(sess)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func remoteIP(r *http.Request) string {
	return r.RemoteAddr
}
