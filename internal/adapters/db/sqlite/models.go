package sqlite

import "time"

type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Department   string `gorm:"not null;default:''"`
	CreatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type ReportModel struct {
	ID          string  `gorm:"primaryKey"`
	Title       string  `gorm:"not null"`
	Type        string  `gorm:"not null;index"`
	Severity    string  `gorm:"not null"`
	Description string  `gorm:"not null"`
	Reporter    string  `gorm:"column:reporter;not null"`
	Assignee    *string `gorm:"column:assignee"`
	Status      string  `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ReportModel) TableName() string { return "error_reports" }

type AttachmentModel struct {
	ID        string `gorm:"primaryKey"`
	ReportID  string `gorm:"not null;index"`
	Filename  string `gorm:"not null"`
	Path      string `gorm:"not null"`
	CreatedAt time.Time
}

func (AttachmentModel) TableName() string { return "report_attachments" }

type HistoryModel struct {
	ID        string `gorm:"primaryKey"`
	ReportID  string `gorm:"not null;index"`
	Action    string `gorm:"not null"`
	UserID    string `gorm:"not null"`
	Details   string `gorm:"not null"`
	CreatedAt time.Time
}

func (HistoryModel) TableName() string { return "report_history" }

type SessionModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	TokenHash string `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (SessionModel) TableName() string { return "sessions" }

type APITokenModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	TokenHash string `gorm:"not null;uniqueIndex"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (APITokenModel) TableName() string { return "api_tokens" }

type AuditLogModel struct {
	ID          string `gorm:"primaryKey"`
	ActorUserID *string
	Action      string `gorm:"not null;index"`
	TargetType  string `gorm:"not null"`
	TargetID    *string
	Metadata    string
	CreatedAt   time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }
