package privileges

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/formworks-app/formworks/internal/authz"
	"github.com/formworks-app/formworks/internal/platform/httpx"
)

// Handler exposes privilege administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers privilege administration routes. The caller wraps
// the group with Middleware.WithAbility.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/privileges", h.listPrivileges)
	r.Post("/privileges", h.definePrivilege)
	r.Put("/privileges/{privilegeID}", h.redefinePrivilege)
	r.Put("/users/{userID}/privileges", h.setUserPrivileges)
}

func (h *Handler) listPrivileges(w http.ResponseWriter, r *http.Request) {
	ability := authz.AbilityFromContext(r.Context())
	list, err := h.service.List(r.Context(), ability)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) definePrivilege(w http.ResponseWriter, r *http.Request) {
	var input PrivilegeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ref, err := h.service.Define(r.Context(), authz.AbilityFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ref)
}

func (h *Handler) redefinePrivilege(w http.ResponseWriter, r *http.Request) {
	var input PrivilegeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ref, err := h.service.Redefine(r.Context(), authz.AbilityFromContext(r.Context()), chi.URLParam(r, "privilegeID"), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	// A vanished target is reported as a null body, not an error: deletion
	// races are expected and must not read as a failed write.
	httpx.JSON(w, http.StatusOK, ref)
}

type assignmentRequest struct {
	Changes []AssignmentChange `json:"changes" validate:"required,min=1,dive"`
}

func (h *Handler) setUserPrivileges(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	updated, err := h.service.SetUserAssignments(r.Context(), authz.AbilityFromContext(r.Context()), chi.URLParam(r, "userID"), req.Changes)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if authz.IsAccessDenied(err) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
		return
	}
	h.logger.Error("privilege request failed", slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
