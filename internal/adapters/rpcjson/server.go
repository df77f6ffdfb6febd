package rpcjson

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/application"
	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/atvirokodosprendimai/reportdesk/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeValidation     = 40000
	codeUnauthorized   = 40100
	codeForbidden      = 40300
	codeNotFound       = 40400
	codeInternal       = 50000
)

type Services struct {
	Reports  *application.ReportService
	Accounts *application.AccountService
	Files    domain.FileStore
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

type Server struct {
	Services
	listener net.Listener
	path     string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func Start(path string, services Services) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if services.Log == nil {
		services.Log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{Services: services, listener: ln, path: path, ctx: ctx, cancel: cancel}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) Path() string { return s.path }

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, interrupts open connections and waits for handlers to return.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stop()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || s.ctx.Err() != nil {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.call(s.ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) call(ctx context.Context, req request) response {
	start := time.Now()
	resp := s.dispatch(ctx, req)

	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	if s.Metrics != nil {
		s.Metrics.ObserveRPC(methodLabel(req.Method), code, time.Since(start))
	}
	entry := s.Log.WithFields(logrus.Fields{"method": req.Method, "duration": time.Since(start).String()})
	if resp.Error != nil {
		entry.WithField("code", code).Info("rpc call failed")
	} else {
		entry.Debug("rpc call")
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "auth.login":
		return s.handleAuthLogin(ctx, req)
	case "auth.logout":
		return s.handleAuthLogout(ctx, req)
	case "auth.whoami":
		identity, rpcResp, ok := s.authz(ctx, req, "")
		if !ok {
			return rpcResp
		}
		return result(req.ID, whoami(identity))
	case "reports.create":
		return s.handleReportsCreate(ctx, req)
	case "reports.list":
		return s.handleReportsList(ctx, req)
	case "reports.get":
		return s.handleReportsGet(ctx, req)
	case "reports.status":
		return s.handleReportsStatus(ctx, req)
	case "reports.assign":
		return s.handleReportsAssign(ctx, req)
	case "reports.comment":
		return s.handleReportsComment(ctx, req)
	case "reports.attach":
		return s.handleReportsAttach(ctx, req)
	case "reports.delete":
		return s.handleReportsDelete(ctx, req)
	case "reports.history":
		return s.handleReportsHistory(ctx, req)
	case "reports.stats":
		if _, rpcResp, ok := s.authz(ctx, req, application.PermStatsRead); !ok {
			return rpcResp
		}
		out, err := s.Reports.GetStatistics(ctx)
		if err != nil {
			return s.errorResponse(req.ID, err)
		}
		return result(req.ID, out)
	case "users.list":
		return s.handleUsersList(ctx, req)
	case "users.create":
		return s.handleUsersCreate(ctx, req)
	case "users.password":
		return s.handleUsersPassword(ctx, req)
	case "users.reset":
		return s.handleUsersReset(ctx, req)
	case "users.delete":
		return s.handleUsersDelete(ctx, req)
	case "audit.list":
		return s.handleAuditList(ctx, req)
	case "files.upload":
		return s.handleFilesUpload(ctx, req)
	case "files.delete":
		return s.handleFilesDelete(ctx, req)
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeMethodNotFound, Message: "method not found"}, ID: req.ID}
	}
}

func (s *Server) handleAuthLogin(ctx context.Context, req request) response {
	var p struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Mode     string `json:"mode"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Accounts.Login(ctx, p.Username, p.Password, defaultString(p.Mode, application.LoginModeToken))
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, out)
}

func (s *Server) handleAuthLogout(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, ""); !ok {
		return rpcResp
	}
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Accounts.Logout(ctx, p.Token); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleReportsCreate(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermReportsWrite)
	if !ok {
		return rpcResp
	}
	var p domain.CreateReportRequest
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	p.ReporterID = identity.User.ID
	id, err := s.Reports.CreateReport(ctx, p)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, map[string]string{"id": id})
}

func (s *Server) handleReportsList(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermReportsRead); !ok {
		return rpcResp
	}
	var p domain.ReportFilter
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Reports.GetReports(ctx, p)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, out)
}

func (s *Server) handleReportsGet(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermReportsRead); !ok {
		return rpcResp
	}
	var p struct {
		ID string `json:"id"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Reports.GetReportByID(ctx, p.ID)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	if out == nil {
		return s.errorResponse(req.ID, domain.ErrNotFound)
	}
	return result(req.ID, out)
}

func (s *Server) handleReportsStatus(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermReportsWrite)
	if !ok {
		return rpcResp
	}
	var p struct {
		ID      string        `json:"id"`
		Status  domain.Status `json:"status"`
		Comment string        `json:"comment"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Reports.UpdateStatus(ctx, p.ID, p.Status, identity.User.ID, p.Comment); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleReportsAssign(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermReportsManage)
	if !ok {
		return rpcResp
	}
	var p struct {
		ID         string `json:"id"`
		AssigneeID string `json:"assignee_id"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Reports.AssignReport(ctx, p.ID, p.AssigneeID, identity.User.ID); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleReportsComment(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermReportsWrite)
	if !ok {
		return rpcResp
	}
	var p struct {
		ID      string `json:"id"`
		Comment string `json:"comment"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Reports.AddComment(ctx, p.ID, identity.User.ID, p.Comment); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleReportsAttach(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermReportsWrite)
	if !ok {
		return rpcResp
	}
	var p struct {
		ID          string                  `json:"id"`
		Attachments []domain.FileAttachment `json:"attachments"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Reports.AddAttachments(ctx, p.ID, identity.User.ID, p.Attachments); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleReportsDelete(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermReportsManage); !ok {
		return rpcResp
	}
	var p struct {
		ID string `json:"id"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Reports.DeleteReport(ctx, p.ID); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleReportsHistory(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermReportsRead); !ok {
		return rpcResp
	}
	var p struct {
		ID string `json:"id"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Reports.GetReportHistory(ctx, p.ID)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, out)
}

func (s *Server) handleUsersList(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermUsersRead); !ok {
		return rpcResp
	}
	var p struct {
		Q     string `json:"q"`
		Limit int    `json:"limit"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Accounts.ListUsers(ctx, p.Q, p.Limit)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, out)
}

func (s *Server) handleUsersCreate(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermUsersManage)
	if !ok {
		return rpcResp
	}
	var p domain.CreateUserRequest
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Accounts.CreateUser(ctx, p)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	s.Accounts.WriteAudit(ctx, &identity.User.ID, "users.create", "user", &out.ID, "rpc")
	return result(req.ID, out)
}

func (s *Server) handleUsersPassword(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, "")
	if !ok {
		return rpcResp
	}
	var p struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Accounts.ChangePassword(ctx, identity.User.ID, p.OldPassword, p.NewPassword); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleUsersReset(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermUsersManage)
	if !ok {
		return rpcResp
	}
	var p struct {
		UserID string `json:"user_id"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Accounts.ResetPassword(ctx, &identity.User.ID, p.UserID); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleUsersDelete(ctx context.Context, req request) response {
	identity, rpcResp, ok := s.authz(ctx, req, application.PermUsersManage)
	if !ok {
		return rpcResp
	}
	var p struct {
		UserID string `json:"user_id"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Accounts.DeleteUser(ctx, &identity.User.ID, p.UserID); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) handleAuditList(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermAuditRead); !ok {
		return rpcResp
	}
	var p struct {
		Limit int `json:"limit"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	out, err := s.Accounts.ListAuditLogs(ctx, p.Limit)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, out)
}

func (s *Server) handleFilesUpload(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermReportsWrite); !ok {
		return rpcResp
	}
	var p struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	data, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		return s.errorResponse(req.ID, domain.NewValidationError("content", "must be base64 encoded"))
	}
	out, err := s.Files.Save(ctx, bytes.NewReader(data), p.Filename)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, out)
}

func (s *Server) handleFilesDelete(ctx context.Context, req request) response {
	if _, rpcResp, ok := s.authz(ctx, req, application.PermReportsManage); !ok {
		return rpcResp
	}
	var p struct {
		Path string `json:"path"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := s.Files.Delete(ctx, p.Path); err != nil {
		return s.errorResponse(req.ID, err)
	}
	return result(req.ID, okResult{OK: true})
}

func (s *Server) authz(ctx context.Context, req request, permission string) (domain.Identity, response, bool) {
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(req.Params, &p) {
		return domain.Identity{}, invalidParams(req.ID), false
	}
	identity, err := s.Accounts.Authenticate(ctx, p.Token)
	if err != nil {
		return domain.Identity{}, s.errorResponse(req.ID, err), false
	}
	if permission != "" && !s.Accounts.Can(identity, permission) {
		return domain.Identity{}, s.errorResponse(req.ID, domain.ErrForbidden), false
	}
	return identity, response{}, true
}

// errorResponse maps domain error kinds to RPC codes. Store failures are logged and hidden.
func (s *Server) errorResponse(id any, err error) response {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeValidation, Message: verr.Error(), Data: verr.Fields}, ID: id}
	case errors.Is(err, domain.ErrUnauthorized):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeUnauthorized, Message: "unauthorized"}, ID: id}
	case errors.Is(err, domain.ErrForbidden):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeForbidden, Message: "forbidden"}, ID: id}
	case errors.Is(err, domain.ErrNotFound):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeNotFound, Message: err.Error()}, ID: id}
	default:
		s.Log.WithError(err).Error("rpc internal error")
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInternal, Message: "internal error"}, ID: id}
	}
}

type whoamiResult struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Role        domain.Role `json:"role"`
	Department  string      `json:"department"`
	Permissions []string    `json:"permissions"`
}

func whoami(identity domain.Identity) whoamiResult {
	perms := make([]string, 0, len(identity.Permissions))
	for p := range identity.Permissions {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return whoamiResult{
		ID:          identity.User.ID,
		Username:    identity.User.Username,
		Role:        identity.User.Role,
		Department:  identity.User.Department,
		Permissions: perms,
	}
}

func methodLabel(method string) string {
	switch {
	case strings.HasPrefix(method, "auth."), strings.HasPrefix(method, "reports."),
		strings.HasPrefix(method, "users."), strings.HasPrefix(method, "audit."),
		strings.HasPrefix(method, "files."):
		return method
	}
	return "unknown"
}

func result(id any, v any) response {
	return response{JSONRPC: "2.0", Result: v, ID: id}
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidParams, Message: "invalid params"}, ID: id}
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	return input
}
