package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"gorm.io/gorm"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.Role(m.Role),
		Department:   m.Department,
		CreatedAt:    m.CreatedAt,
	}
}

func (r *AccountRepository) CreateUser(ctx context.Context, value domain.User) (domain.User, error) {
	m := UserModel{
		ID:           value.ID,
		Username:     strings.TrimSpace(value.Username),
		PasswordHash: value.PasswordHash,
		Role:         defaultString(string(value.Role), string(domain.RoleUser)),
		Department:   value.Department,
		CreatedAt:    value.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(m), nil
}

func (r *AccountRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error
	return count, err
}

func (r *AccountRepository) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&m).Error; err != nil {
		return domain.User{}, notFound(err)
	}
	return userFromModel(m), nil
}

func (r *AccountRepository) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return domain.User{}, notFound(err)
	}
	return userFromModel(m), nil
}

func (r *AccountRepository) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	q := r.db.WithContext(ctx).Model(&UserModel{})
	if strings.TrimSpace(query) != "" {
		like := "%" + strings.TrimSpace(query) + "%"
		q = q.Where("username LIKE ? OR department LIKE ?", like, like)
	}

	rows := make([]UserModel, 0)
	if err := q.Order("username ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]domain.User, 0, len(rows))
	for _, m := range rows {
		result = append(result, userFromModel(m))
	}
	return result, nil
}

func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).UpdateColumn("password_hash", hash)
	return res.RowsAffected, res.Error
}

func (r *AccountRepository) CountUserReferences(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(`
SELECT (SELECT COUNT(*) FROM error_reports WHERE reporter = ? OR assignee = ?)
     + (SELECT COUNT(*) FROM report_history WHERE user_id = ?)
`, userID, userID, userID).Scan(&count).Error
	return count, err
}

func (r *AccountRepository) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", userID).Delete(&UserModel{})
	return res.RowsAffected, res.Error
}

func (r *AccountRepository) CreateSession(ctx context.Context, value domain.AuthSession) (domain.AuthSession, error) {
	m := SessionModel{ID: value.ID, UserID: value.UserID, TokenHash: value.TokenHash, ExpiresAt: value.ExpiresAt.UTC(), CreatedAt: value.CreatedAt.UTC()}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.AuthSession{}, err
	}
	return domain.AuthSession{ID: m.ID, UserID: m.UserID, TokenHash: m.TokenHash, ExpiresAt: m.ExpiresAt, CreatedAt: m.CreatedAt}, nil
}

func (r *AccountRepository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (domain.AuthSession, error) {
	var m SessionModel
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		return domain.AuthSession{}, notFound(err)
	}
	return domain.AuthSession{ID: m.ID, UserID: m.UserID, TokenHash: m.TokenHash, ExpiresAt: m.ExpiresAt, CreatedAt: m.CreatedAt}, nil
}

func (r *AccountRepository) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	return r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&SessionModel{}).Error
}

func (r *AccountRepository) CreateAPIToken(ctx context.Context, value domain.APIToken) (domain.APIToken, error) {
	var expires *time.Time
	if value.ExpiresAt != nil {
		t := value.ExpiresAt.UTC()
		expires = &t
	}
	m := APITokenModel{ID: value.ID, UserID: value.UserID, Name: value.Name, TokenHash: value.TokenHash, ExpiresAt: expires, CreatedAt: value.CreatedAt.UTC()}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.APIToken{}, err
	}
	return domain.APIToken{ID: m.ID, UserID: m.UserID, Name: m.Name, TokenHash: m.TokenHash, ExpiresAt: m.ExpiresAt, CreatedAt: m.CreatedAt}, nil
}

func (r *AccountRepository) GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (domain.APIToken, error) {
	var m APITokenModel
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		return domain.APIToken{}, notFound(err)
	}
	return domain.APIToken{ID: m.ID, UserID: m.UserID, Name: m.Name, TokenHash: m.TokenHash, ExpiresAt: m.ExpiresAt, CreatedAt: m.CreatedAt}, nil
}

func (r *AccountRepository) DeleteAPITokenByTokenHash(ctx context.Context, tokenHash string) error {
	return r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&APITokenModel{}).Error
}

func (r *AccountRepository) DeleteCredentials(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&SessionModel{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&APITokenModel{}).Error
	})
}

func (r *AccountRepository) CreateAuditLog(ctx context.Context, value domain.AuditLog) error {
	m := AuditLogModel{
		ID:          value.ID,
		ActorUserID: value.ActorUserID,
		Action:      value.Action,
		TargetType:  value.TargetType,
		TargetID:    value.TargetID,
		Metadata:    value.Metadata,
		CreatedAt:   value.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *AccountRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	type row struct {
		ID            string
		ActorUserID   *string
		ActorUsername string
		Action        string
		TargetType    string
		TargetID      *string
		Metadata      string
		CreatedAt     time.Time
	}
	rows := make([]row, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT a.id,
       a.actor_user_id,
       COALESCE(u.username, '') AS actor_username,
       a.action,
       a.target_type,
       a.target_id,
       a.metadata,
       a.created_at
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_user_id
ORDER BY a.created_at DESC, a.rowid DESC
LIMIT ?
`, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.AuditRecord, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.AuditRecord{
			ID:            m.ID,
			ActorUserID:   m.ActorUserID,
			ActorUsername: m.ActorUsername,
			Action:        m.Action,
			TargetType:    m.TargetType,
			TargetID:      m.TargetID,
			Metadata:      m.Metadata,
			CreatedAt:     m.CreatedAt,
		})
	}
	return result, nil
}
