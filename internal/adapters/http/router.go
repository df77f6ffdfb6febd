package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/application"
	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/atvirokodosprendimai/reportdesk/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	sessionCookieName = "rd_session"
	maxUploadBytes    = 32 << 20
)

type contextKey string

const identityKey contextKey = "identity"

type Deps struct {
	Reports  *application.ReportService
	Accounts *application.AccountService
	Files    domain.FileStore
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

type Handler struct {
	reports  *application.ReportService
	accounts *application.AccountService
	files    domain.FileStore
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewRouter(deps Deps) http.Handler {
	h := &Handler{
		reports:  deps.Reports,
		accounts: deps.Accounts,
		files:    deps.Files,
		log:      deps.Log,
		metrics:  deps.Metrics,
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", h.handleAPILogin)
		api.With(h.requireAuthAPI("")).Get("/auth/whoami", h.handleAPIWhoAmI)
		api.With(h.requireAuthAPI("")).Post("/auth/logout", h.handleAPILogout)

		api.With(h.requireAuthAPI(application.PermReportsRead)).Get("/reports", h.handleAPIListReports)
		api.With(h.requireAuthAPI(application.PermReportsWrite)).Post("/reports", h.handleAPICreateReport)
		api.With(h.requireAuthAPI(application.PermReportsRead)).Get("/reports/{id}", h.handleAPIGetReport)
		api.With(h.requireAuthAPI(application.PermReportsManage)).Delete("/reports/{id}", h.handleAPIDeleteReport)
		api.With(h.requireAuthAPI(application.PermReportsWrite)).Post("/reports/{id}/status", h.handleAPIUpdateStatus)
		api.With(h.requireAuthAPI(application.PermReportsManage)).Post("/reports/{id}/assign", h.handleAPIAssignReport)
		api.With(h.requireAuthAPI(application.PermReportsWrite)).Post("/reports/{id}/comments", h.handleAPIAddComment)
		api.With(h.requireAuthAPI(application.PermReportsWrite)).Post("/reports/{id}/attachments", h.handleAPIAddAttachments)
		api.With(h.requireAuthAPI(application.PermReportsRead)).Get("/reports/{id}/history", h.handleAPIReportHistory)
		api.With(h.requireAuthAPI(application.PermStatsRead)).Get("/stats", h.handleAPIStatistics)

		api.With(h.requireAuthAPI(application.PermUsersRead)).Get("/users", h.handleAPIListUsers)
		api.With(h.requireAuthAPI(application.PermUsersManage)).Post("/users", h.handleAPICreateUser)
		api.With(h.requireAuthAPI("")).Post("/users/me/password", h.handleAPIChangePassword)
		api.With(h.requireAuthAPI(application.PermUsersManage)).Post("/users/{id}/reset", h.handleAPIResetPassword)
		api.With(h.requireAuthAPI(application.PermUsersManage)).Delete("/users/{id}", h.handleAPIDeleteUser)
		api.With(h.requireAuthAPI(application.PermAuditRead)).Get("/audit", h.handleAPIListAuditLogs)

		api.With(h.requireAuthAPI(application.PermReportsWrite)).Post("/files", h.handleAPIUploadFile)
		api.With(h.requireAuthAPI(application.PermReportsManage)).Delete("/files", h.handleAPIDeleteFile)
	})

	return r
}

// observe logs every request and records it under the matched route pattern.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		if h.metrics != nil {
			h.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		}
		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   elapsed.String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}

func (h *Handler) requireAuthAPI(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if permission != "" && !h.accounts.Can(identity, permission) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) authenticateRequest(r *http.Request) (domain.Identity, bool) {
	if token := bearerToken(r); token != "" {
		if identity, err := h.accounts.Authenticate(r.Context(), token); err == nil {
			return identity, true
		}
	}

	c, err := r.Cookie(sessionCookieName)
	if err == nil && strings.TrimSpace(c.Value) != "" {
		if identity, err := h.accounts.Authenticate(r.Context(), c.Value); err == nil {
			return identity, true
		}
	}

	return domain.Identity{}, false
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	value := ctx.Value(identityKey)
	if value == nil {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

func currentUserID(ctx context.Context) string {
	identity, ok := identityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.User.ID
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires *time.Time) {
	c := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if expires != nil {
		c.Expires = *expires
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

type apiLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Mode     string `json:"mode"`
}

func (h *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req apiLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = application.LoginModeToken
	}

	res, err := h.accounts.Login(r.Context(), req.Username, req.Password, mode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Mode == application.LoginModeSession {
		h.setSessionCookie(w, res.Token, res.ExpiresAt)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAPIWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	perms := make([]string, 0, len(identity.Permissions))
	for p := range identity.Permissions {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          identity.User.ID,
		"username":    identity.User.Username,
		"role":        identity.User.Role,
		"department":  identity.User.Department,
		"permissions": perms,
	})
}

func (h *Handler) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			token = c.Value
		}
	}
	if token != "" {
		if err := h.accounts.Logout(r.Context(), token); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ReportFilter{
		Status: domain.Status(q.Get("status")),
		Type:   domain.ReportType(q.Get("type")),
	}
	verr := &domain.ValidationError{}
	filter.Page = queryInt(verr, q.Get("page"), "page")
	filter.PageSize = queryInt(verr, q.Get("page_size"), "page_size")
	if len(verr.Fields) > 0 {
		h.writeError(w, verr)
		return
	}

	page, err := h.reports.GetReports(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleAPICreateReport(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateReportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ReporterID = currentUserID(r.Context())
	id, err := h.reports.CreateReport(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleAPIGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GetReportByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "report not found"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAPIDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.reports.DeleteReport(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "reports.delete", "report", &id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type apiStatusRequest struct {
	Status  domain.Status `json:"status"`
	Comment string        `json:"comment"`
}

func (h *Handler) handleAPIUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req apiStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.reports.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, currentUserID(r.Context()), req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type apiAssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (h *Handler) handleAPIAssignReport(w http.ResponseWriter, r *http.Request) {
	var req apiAssignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.reports.AssignReport(r.Context(), chi.URLParam(r, "id"), req.AssigneeID, currentUserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type apiCommentRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) handleAPIAddComment(w http.ResponseWriter, r *http.Request) {
	var req apiCommentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.reports.AddComment(r.Context(), chi.URLParam(r, "id"), currentUserID(r.Context()), req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

type apiAttachRequest struct {
	Attachments []domain.FileAttachment `json:"attachments"`
}

func (h *Handler) handleAPIAddAttachments(w http.ResponseWriter, r *http.Request) {
	var req apiAttachRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.reports.AddAttachments(r.Context(), chi.URLParam(r, "id"), currentUserID(r.Context()), req.Attachments)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (h *Handler) handleAPIReportHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.reports.GetReportHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleAPIStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.GetStatistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAPIListUsers(w http.ResponseWriter, r *http.Request) {
	verr := &domain.ValidationError{}
	limit := queryInt(verr, r.URL.Query().Get("limit"), "limit")
	if len(verr.Fields) > 0 {
		h.writeError(w, verr)
		return
	}
	items, err := h.accounts.ListUsers(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleAPICreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.accounts.CreateUser(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "users.create", "user", &u.ID)
	writeJSON(w, http.StatusCreated, u)
}

type apiChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) handleAPIChangePassword(w http.ResponseWriter, r *http.Request) {
	var req apiChangePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), currentUserID(r.Context()), req.OldPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIResetPassword(w http.ResponseWriter, r *http.Request) {
	actor := currentUserID(r.Context())
	if err := h.accounts.ResetPassword(r.Context(), &actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := currentUserID(r.Context())
	if err := h.accounts.DeleteUser(r.Context(), &actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIListAuditLogs(w http.ResponseWriter, r *http.Request) {
	verr := &domain.ValidationError{}
	limit := queryInt(verr, r.URL.Query().Get("limit"), "limit")
	if len(verr.Fields) > 0 {
		h.writeError(w, verr)
		return
	}
	items, err := h.accounts.ListAuditLogs(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleAPIUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, domain.NewValidationError("file", "must be a multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, domain.NewValidationError("file", "is required"))
		return
	}
	defer func() { _ = file.Close() }()

	out, err := h.files.Save(r.Context(), file, header.Filename)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) handleAPIDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		h.writeError(w, domain.NewValidationError("path", "is required"))
		return
	}
	if err := h.files.Delete(r.Context(), path); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// writeError maps domain error kinds to statuses. Anything unrecognised is logged and hidden.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	default:
		h.log.WithError(err).Error("http internal error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return false
	}
	return true
}

func queryInt(verr *domain.ValidationError, raw, field string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(field, "must be a number")
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeAudit(ctx context.Context, action, targetType string, targetID *string) {
	identity, ok := identityFromContext(ctx)
	if !ok {
		h.accounts.WriteAudit(ctx, nil, action, targetType, targetID, "http")
		return
	}
	h.accounts.WriteAudit(ctx, &identity.User.ID, action, targetType, targetID, "http")
}
