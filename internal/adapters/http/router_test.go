package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/reportdesk/internal/adapters/db/sqlite"
	"github.com/atvirokodosprendimai/reportdesk/internal/adapters/files"
	"github.com/atvirokodosprendimai/reportdesk/internal/application"
	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/atvirokodosprendimai/reportdesk/internal/metrics"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t        *testing.T
	handler  http.Handler
	accounts *application.AccountService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close(db) })
	_, err = sqlite.RunMigrations(ctx, db)
	require.NoError(t, err)

	store, err := files.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	m := metrics.New()
	accounts := application.NewAccountService(sqlite.NewAccountRepository(db), application.AccountConfig{}, logger)
	reports := application.NewReportService(sqlite.NewReportRepository(db), store, logger, application.WithStatusRecorder(m))
	require.NoError(t, accounts.BootstrapAdmin(ctx, "admin", "admin123"))

	return &testAPI{
		t: t,
		handler: NewRouter(Deps{
			Reports:  reports,
			Accounts: accounts,
			Files:    store,
			Log:      logger,
			Metrics:  m,
		}),
		accounts: accounts,
	}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(username, password string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var res application.LoginResult
	decode(a.t, rec, &res)
	return res.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reportdesk_http_requests_total")
}

func TestAPIRequiresAuthentication(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/api/reports", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/api/reports", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIReportFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.login("admin", "admin123")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "screen.PNG")
	require.NoError(t, err)
	_, err = part.Write([]byte("png bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var upload domain.FileAttachment
	decode(t, rec, &upload)
	assert.Equal(t, "screen.PNG", upload.Filename)
	assert.True(t, strings.HasSuffix(upload.Path, ".png"))

	rec = api.do(http.MethodPost, "/api/reports", token, map[string]any{
		"title":       "Crash on save",
		"type":        "bug",
		"severity":    "critical",
		"description": "steps",
		"attachments": []domain.FileAttachment{upload},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	decode(t, rec, &created)

	rec = api.do(http.MethodPost, "/api/reports/"+created.ID+"/status", token, map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/api/reports/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.ErrorReport
	decode(t, rec, &report)
	assert.Equal(t, domain.StatusResolved, report.Status)
	assert.Equal(t, []string{upload.Path}, report.Attachments)

	rec = api.do(http.MethodGet, "/api/reports?status=resolved&page_size=5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.ReportPage
	decode(t, rec, &page)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)

	rec = api.do(http.MethodGet, "/api/reports/"+created.ID+"/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.HistoryEntry
	decode(t, rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "status changed to: resolved", history[0].Details)

	rec = api.do(http.MethodGet, "/api/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.StatSnapshot
	decode(t, rec, &stats)
	assert.EqualValues(t, 1, stats.ResolvedToday)

	rec = api.do(http.MethodDelete, "/api/reports/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoFileExists(t, upload.Path)

	rec = api.do(http.MethodGet, "/api/reports/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodPost, "/api/reports/"+created.ID+"/status", token, map[string]string{"status": "closed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIValidationAndPermissions(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.accounts.CreateUser(context.Background(), domain.CreateUserRequest{
		Username: "alice", Password: "secret", Role: domain.RoleUser, Department: "QA",
	})
	require.NoError(t, err)
	token := api.login("alice", "secret")

	rec := api.do(http.MethodPost, "/api/reports", token, map[string]any{
		"title": "", "type": "nonsense", "severity": "low", "description": "d",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var verr struct {
		Fields []domain.FieldError `json:"fields"`
	}
	decode(t, rec, &verr)
	assert.Equal(t, []domain.FieldError{
		{Field: "title", Message: "is required"},
		{Field: "type", Message: "must be one of: bug feature improvement other"},
	}, verr.Fields)

	rec = api.do(http.MethodGet, "/api/reports?page=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/reports?status=done", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodDelete, "/api/reports/anything", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/api/users/me/password", token, map[string]string{"old_password": "secret", "new_password": "changed"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPILogoutRevokesBearerToken(t *testing.T) {
	api := newTestAPI(t)
	token := api.login("admin", "admin123")
	other := api.login("admin", "admin123")

	rec := api.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/api/auth/whoami", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/api/auth/whoami", other, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPISessionCookieLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "admin123", "mode": "session"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/whoami", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var who map[string]any
	decode(t, rec, &who)
	assert.Equal(t, "admin", who["username"])

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/whoami", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
