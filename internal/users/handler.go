package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
		r.Get("/availability", h.availability)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermUsersEdit))
		r.Post("/", h.createUser)
		r.Patch("/{id}", h.updateUser)
		r.Delete("/{id}", h.deleteUser)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		IncludeDeleted: r.URL.Query().Get("include_deleted") == "true",
		Role:           r.URL.Query().Get("role"),
	}
	users, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUserByID(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := map[string]bool{}
	if v := q.Get("username"); v != "" {
		ok, err := h.service.IsUsernameAvailable(r.Context(), v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resp["username"] = ok
	}
	if v := q.Get("email"); v != "" {
		ok, err := h.service.IsEmailAvailable(r.Context(), v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resp["email"] = ok
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var input CreateUserInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(input.Roles) > 0 && !h.canAssignRoles(w, r) {
		return
	}
	user, err := h.service.CreateUser(r.Context(), input)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var input UpdateUserInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if input.Roles != nil && !h.canAssignRoles(w, r) {
		return
	}
	user, err := h.service.UpdateUser(r.Context(), id, input)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if p := shared.PrincipalFromContext(r.Context()); p.UserID == id {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cannot delete own account")
		return
	}
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.respond(w, err)
		return
	}
	httpx.NoContent(w)
}

// canAssignRoles applies the same permission the /roles assignment routes
// require, so role changes cannot bypass it through account edits.
func (h *Handler) canAssignRoles(w http.ResponseWriter, r *http.Request) bool {
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.rbac.Registry.CheckPermission(r.Context(), principal, shared.PermRolesEdit); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// respond renders validation errors with their field map.
func (h *Handler) respond(w http.ResponseWriter, err error) {
	if verr, ok := err.(*ValidationError); ok {
		httpx.JSON(w, http.StatusBadRequest, map[string]any{
			"title":  "Validation Failed",
			"status": http.StatusBadRequest,
			"errors": verr.Fields,
		})
		return
	}
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("user handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return 0, false
	}
	return id, true
}
