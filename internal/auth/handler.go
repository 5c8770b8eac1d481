package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// PermissionLister reports the effective permissions of a principal.
type PermissionLister interface {
	GetUserPermissions(p *shared.Principal) []string
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	permissions    PermissionLister
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, permissions PermissionLister) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		permissions:    permissions,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/signup", h.handleSignup)
	r.Get("/me", h.handleMe)
	r.Get("/csrf", h.handleCSRF)
}

// handleCSRF hands cookie-based clients the token required on unsafe methods.
func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || h.csrfManager == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "no session")
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
}

type loginResponse struct {
	*LoginResult
	CSRFToken string `json:"csrf_token,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "identifier and password are required")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	result, err := h.service.Login(r.Context(), sess, req.Identifier, req.Password, clientMeta(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := loginResponse{LoginResult: result}
	if sess != nil && h.csrfManager != nil {
		resp.CSRFToken = h.csrfManager.RotateToken(sess)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, _ := BearerToken(r)
	sess := shared.SessionFromContext(r.Context())
	if err := h.service.Logout(r.Context(), sess, raw); err != nil {
		h.fail(w, err)
		return
	}
	if sess != nil && h.sessionManager != nil {
		h.sessionManager.Destroy(sess)
	}
	httpx.NoContent(w)
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var input SignupInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Signup(r.Context(), input)
	if err != nil {
		var verr *users.ValidationError
		if errors.As(err, &verr) {
			httpx.JSON(w, http.StatusBadRequest, map[string]any{
				"title":  "Validation Failed",
				"status": http.StatusBadRequest,
				"errors": verr.Fields,
			})
			return
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

type meResponse struct {
	UserID       int64       `json:"user_id"`
	Username     string      `json:"username"`
	Roles        []string    `json:"roles"`
	Permissions  []string    `json:"permissions"`
	RecentLogins []UserLogin `json:"recent_logins,omitempty"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if p.IsAnonymous() {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	resp := meResponse{UserID: p.UserID, Username: p.Username, Roles: p.Roles, Permissions: []string{}}
	if h.permissions != nil {
		resp.Permissions = h.permissions.GetUserPermissions(p)
	}
	if r.URL.Query().Get("logins") == "true" {
		logins, err := h.service.RecentLogins(r.Context(), p.UserID, 10)
		if err != nil {
			h.logger.Warn("list recent logins", slog.Any("error", err))
		}
		resp.RecentLogins = logins
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("auth handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func clientMeta(r *http.Request) ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ClientMeta{IP: ip, UserAgent: r.UserAgent()}
}
