package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
)

func doLogin(ctx context.Context, cfg cliConfig, username, password string, out any) error {
	in := map[string]any{"username": username, "password": password, "mode": "token"}
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, "").call(ctx, "auth.login", in, out)
	}
	return newAPIClient(cfg.Server, "").request(ctx, http.MethodPost, "/api/auth/login", in, out)
}

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "auth.whoami", nil, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, "/api/auth/whoami", nil, out)
}

func doLogout(ctx context.Context, cfg cliConfig) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "auth.logout", nil, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func doReportsList(ctx context.Context, cfg cliConfig, filter domain.ReportFilter, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.list", map[string]any{
			"status":    filter.Status,
			"type":      filter.Type,
			"page":      filter.Page,
			"page_size": filter.PageSize,
		}, out)
	}
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(filter.PageSize))
	}
	path := "/api/reports"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, path, nil, out)
}

func doReportsGet(ctx context.Context, cfg cliConfig, id string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.get", map[string]any{"id": id}, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id), nil, out)
}

func doReportsCreate(ctx context.Context, cfg cliConfig, req domain.CreateReportRequest, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.create", map[string]any{
			"title":       req.Title,
			"type":        req.Type,
			"severity":    req.Severity,
			"description": req.Description,
			"attachments": req.Attachments,
		}, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, "/api/reports", req, out)
}

func doReportsStatus(ctx context.Context, cfg cliConfig, id string, status domain.Status, comment string) error {
	in := map[string]any{"id": id, "status": status, "comment": comment}
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.status", in, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, reportPath(id, "status"), in, nil)
}

func doReportsAssign(ctx context.Context, cfg cliConfig, id, assigneeID string) error {
	in := map[string]any{"id": id, "assignee_id": assigneeID}
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.assign", in, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, reportPath(id, "assign"), in, nil)
}

func doReportsComment(ctx context.Context, cfg cliConfig, id, comment string) error {
	in := map[string]any{"id": id, "comment": comment}
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.comment", in, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, reportPath(id, "comments"), in, nil)
}

func doReportsAttach(ctx context.Context, cfg cliConfig, id string, files []domain.FileAttachment) error {
	in := map[string]any{"id": id, "attachments": files}
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.attach", in, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, reportPath(id, "attachments"), in, nil)
}

func doReportsDelete(ctx context.Context, cfg cliConfig, id string) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.delete", map[string]any{"id": id}, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodDelete, "/api/reports/"+url.PathEscape(id), nil, nil)
}

func doReportsHistory(ctx context.Context, cfg cliConfig, id string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.history", map[string]any{"id": id}, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, reportPath(id, "history"), nil, out)
}

func doReportsStats(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "reports.stats", nil, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, "/api/stats", nil, out)
}

func doUsersList(ctx context.Context, cfg cliConfig, q string, limit int, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "users.list", map[string]any{"q": q, "limit": limit}, out)
	}
	v := url.Values{}
	if q != "" {
		v.Set("q", q)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/users"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, path, nil, out)
}

func doUsersCreate(ctx context.Context, cfg cliConfig, req domain.CreateUserRequest, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "users.create", map[string]any{
			"username":   req.Username,
			"password":   req.Password,
			"role":       req.Role,
			"department": req.Department,
		}, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, "/api/users", req, out)
}

func doUsersPasswd(ctx context.Context, cfg cliConfig, oldPassword, newPassword string) error {
	in := map[string]any{"old_password": oldPassword, "new_password": newPassword}
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "users.password", in, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, "/api/users/me/password", in, nil)
}

func doUsersReset(ctx context.Context, cfg cliConfig, userID string) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "users.reset", map[string]any{"user_id": userID}, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodPost, "/api/users/"+url.PathEscape(userID)+"/reset", nil, nil)
}

func doUsersDelete(ctx context.Context, cfg cliConfig, userID string) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "users.delete", map[string]any{"user_id": userID}, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(userID), nil, nil)
}

func doAuditList(ctx context.Context, cfg cliConfig, limit int, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "audit.list", map[string]any{"limit": limit}, out)
	}
	path := "/api/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodGet, path, nil, out)
}

func doFilesUpload(ctx context.Context, cfg cliConfig, localPath string, out *domain.FileAttachment) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	name := filepath.Base(localPath)

	if cfg.Transport == "uds" {
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "files.upload", map[string]any{
			"filename": name,
			"content":  base64.StdEncoding.EncodeToString(data),
		}, out)
	}
	return newAPIClient(cfg.Server, cfg.Token).upload(ctx, "/api/files", name, f, out)
}

func doFilesDelete(ctx context.Context, cfg cliConfig, storedPath string) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket, cfg.Token).call(ctx, "files.delete", map[string]any{"path": storedPath}, nil)
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, http.MethodDelete, "/api/files?path="+url.QueryEscape(storedPath), nil, nil)
}

// uploadAll stores local files in order and returns their attachment descriptors.
func uploadAll(ctx context.Context, cfg cliConfig, paths []string) ([]domain.FileAttachment, error) {
	out := make([]domain.FileAttachment, 0, len(paths))
	for _, p := range paths {
		var fa domain.FileAttachment
		if err := doFilesUpload(ctx, cfg, p, &fa); err != nil {
			return nil, err
		}
		out = append(out, fa)
	}
	return out, nil
}

func reportPath(id, sub string) string {
	return "/api/reports/" + url.PathEscape(id) + "/" + sub
}
