package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	PermReportsRead   = "reports.read"
	PermReportsWrite  = "reports.write"
	PermReportsManage = "reports.manage"
	PermStatsRead     = "stats.read"
	PermUsersRead     = "users.read"
	PermUsersManage   = "users.manage"
	PermAuditRead     = "audit.read"

	LoginModeSession = "session"
	LoginModeToken   = "token"

	bootstrapDepartment = "IT"
)

var rolePermissions = map[domain.Role][]string{
	domain.RoleAdmin:   {"*"},
	domain.RoleManager: {PermReportsRead, PermReportsWrite, PermReportsManage, PermStatsRead, PermUsersRead},
	domain.RoleUser:    {PermReportsRead, PermReportsWrite, PermStatsRead},
}

func PermissionsForRole(role domain.Role) map[string]struct{} {
	perms := make(map[string]struct{})
	for _, p := range rolePermissions[role] {
		perms[p] = struct{}{}
	}
	return perms
}

type AccountConfig struct {
	SessionTTL    time.Duration
	TokenTTL      time.Duration
	ResetPassword string
}

type AccountService struct {
	repo domain.AccountRepository
	cfg  AccountConfig
	log  logrus.FieldLogger
	now  func() time.Time
}

type passwordChange struct {
	NewPassword string `json:"new_password" validate:"min=4"`
}

type LoginResult struct {
	User      domain.User `json:"user"`
	Token     string      `json:"token"`
	Mode      string      `json:"mode"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

func NewAccountService(repo domain.AccountRepository, cfg AccountConfig, log logrus.FieldLogger) *AccountService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.ResetPassword == "" {
		cfg.ResetPassword = "123456"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AccountService{repo: repo, cfg: cfg, log: log, now: time.Now}
}

func (s *AccountService) BootstrapAdmin(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return domain.NewValidationError("", "bootstrap admin username and password are required")
	}

	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return storeErr("users.count", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	u, err := s.repo.CreateUser(ctx, domain.User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Department:   bootstrapDepartment,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return storeErr("users.create", err)
	}

	s.log.WithField("username", u.Username).Info("bootstrap admin created")
	s.WriteAudit(ctx, &u.ID, "auth.bootstrap_admin", "user", &u.ID, "initial admin created")
	return nil
}

func (s *AccountService) Login(ctx context.Context, username, password, mode string) (LoginResult, error) {
	u, err := s.authenticatePassword(ctx, username, password)
	if err != nil {
		return LoginResult{}, err
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return LoginResult{}, err
	}

	now := s.now().UTC()
	result := LoginResult{User: u, Token: plain, Mode: defaultString(mode, LoginModeSession)}

	switch result.Mode {
	case LoginModeSession:
		expires := now.Add(s.cfg.SessionTTL)
		if _, err := s.repo.CreateSession(ctx, domain.AuthSession{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			TokenHash: hash,
			ExpiresAt: expires,
			CreatedAt: now,
		}); err != nil {
			return LoginResult{}, storeErr("sessions.create", err)
		}
		result.ExpiresAt = &expires
	case LoginModeToken:
		var expires *time.Time
		if s.cfg.TokenTTL > 0 {
			t := now.Add(s.cfg.TokenTTL)
			expires = &t
		}
		if _, err := s.repo.CreateAPIToken(ctx, domain.APIToken{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Name:      "cli",
			TokenHash: hash,
			ExpiresAt: expires,
			CreatedAt: now,
		}); err != nil {
			return LoginResult{}, storeErr("tokens.create", err)
		}
		result.ExpiresAt = expires
	default:
		return LoginResult{}, domain.NewValidationError("mode", "must be one of: session token")
	}

	s.WriteAudit(ctx, &u.ID, "auth.login."+result.Mode, "user", &u.ID, "")
	return result, nil
}

// Authenticate accepts either a session token or an API token.
func (s *AccountService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	hash := hashToken(token)
	now := s.now().UTC()

	session, err := s.repo.GetSessionByTokenHash(ctx, hash)
	switch {
	case err == nil:
		if session.ExpiresAt.Before(now) {
			_ = s.repo.DeleteSessionByTokenHash(ctx, hash)
			return domain.Identity{}, fmt.Errorf("session expired: %w", domain.ErrUnauthorized)
		}
		return s.identityByUserID(ctx, session.UserID)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Identity{}, storeErr("sessions.get", err)
	}

	apiToken, err := s.repo.GetAPITokenByTokenHash(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Identity{}, storeErr("tokens.get", err)
	}
	if apiToken.ExpiresAt != nil && apiToken.ExpiresAt.Before(now) {
		return domain.Identity{}, fmt.Errorf("token expired: %w", domain.ErrUnauthorized)
	}
	return s.identityByUserID(ctx, apiToken.UserID)
}

// Logout revokes the session or API token issued for token.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	hash := hashToken(token)
	if err := s.repo.DeleteSessionByTokenHash(ctx, hash); err != nil {
		return storeErr("sessions.delete", err)
	}
	return storeErr("tokens.delete", s.repo.DeleteAPITokenByTokenHash(ctx, hash))
}

func (s *AccountService) Can(identity domain.Identity, permission string) bool {
	if _, ok := identity.Permissions["*"]; ok {
		return true
	}
	_, ok := identity.Permissions[permission]
	return ok
}

func (s *AccountService) WriteAudit(ctx context.Context, actorUserID *string, action, targetType string, targetID *string, metadata string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:          uuid.NewString(),
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    metadata,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.log.WithError(err).WithField("action", action).Warn("write audit log")
	}
}

func (s *AccountService) CreateUser(ctx context.Context, req domain.CreateUserRequest) (domain.User, error) {
	if err := validateStruct(req); err != nil {
		return domain.User{}, err
	}

	username := strings.TrimSpace(req.Username)
	_, err := s.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return domain.User{}, domain.NewValidationError("username", "is already taken")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, storeErr("users.get", err)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}

	u, err := s.repo.CreateUser(ctx, domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         req.Role,
		Department:   strings.TrimSpace(req.Department),
		CreatedAt:    s.now(),
	})
	if err != nil {
		return domain.User{}, storeErr("users.create", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user created")
	return u, nil
}

func (s *AccountService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, userNotFound(userID)
	}
	return u, storeErr("users.get", err)
}

func (s *AccountService) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	users, err := s.repo.ListUsers(ctx, query, limit)
	return users, storeErr("users.list", err)
}

func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := validateStruct(passwordChange{NewPassword: newPassword}); err != nil {
		return err
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)); err != nil {
		return domain.NewValidationError("old_password", "does not match")
	}

	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	s.WriteAudit(ctx, &userID, "users.password_change", "user", &userID, "")
	return nil
}

// ResetPassword sets the configured default password and drops existing logins.
func (s *AccountService) ResetPassword(ctx context.Context, actorUserID *string, userID string) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.setPassword(ctx, userID, s.cfg.ResetPassword); err != nil {
		return err
	}
	if err := s.repo.DeleteCredentials(ctx, userID); err != nil {
		return storeErr("credentials.delete", err)
	}
	s.WriteAudit(ctx, actorUserID, "users.password_reset", "user", &userID, "")
	return nil
}

func (s *AccountService) DeleteUser(ctx context.Context, actorUserID *string, userID string) error {
	if actorUserID != nil && *actorUserID == userID {
		return domain.NewValidationError("user_id", "cannot delete the current user")
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}

	refs, err := s.repo.CountUserReferences(ctx, userID)
	if err != nil {
		return storeErr("users.references", err)
	}
	if refs > 0 {
		return domain.NewValidationError("user_id", "user is referenced by reports")
	}

	if err := s.repo.DeleteCredentials(ctx, userID); err != nil {
		return storeErr("credentials.delete", err)
	}
	if _, err := s.repo.DeleteUser(ctx, userID); err != nil {
		return storeErr("users.delete", err)
	}

	s.log.WithField("user_id", userID).Info("user deleted")
	s.WriteAudit(ctx, actorUserID, "users.delete", "user", &userID, "")
	return nil
}

func (s *AccountService) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	logs, err := s.repo.ListAuditLogs(ctx, limit)
	return logs, storeErr("audit.list", err)
}

func (s *AccountService) setPassword(ctx context.Context, userID, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	n, err := s.repo.UpdatePasswordHash(ctx, userID, hash)
	if err != nil {
		return storeErr("users.password", err)
	}
	if n == 0 {
		return userNotFound(userID)
	}
	return nil
}

func (s *AccountService) authenticatePassword(ctx context.Context, username, password string) (domain.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return domain.User{}, storeErr("users.get", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	return u, nil
}

func (s *AccountService) identityByUserID(ctx context.Context, userID string) (domain.Identity, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Identity{}, storeErr("users.get", err)
	}
	return domain.Identity{User: u, Permissions: PermissionsForRole(u.Role)}, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	return input
}
