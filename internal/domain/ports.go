package domain

import (
	"context"
	"io"
	"time"
)

// StatDimension is a report column that statistics can be grouped by.
type StatDimension string

const (
	DimensionType     StatDimension = "type"
	DimensionSeverity StatDimension = "severity"
	DimensionStatus   StatDimension = "status"
)

// ReportRepository is the record store capability consumed by the report lifecycle.
// Lookups of a single row return ErrNotFound when the row does not exist.
type ReportRepository interface {
	InTx(ctx context.Context, fn func(tx ReportRepository) error) error
	LookupUsername(ctx context.Context, userID string) (string, error)

	InsertReport(ctx context.Context, value ErrorReport) error
	GetReport(ctx context.Context, id string) (ErrorReport, error)
	CountReports(ctx context.Context, filter ReportFilter) (int64, error)
	ListReports(ctx context.Context, filter ReportFilter, limit, offset int) ([]ErrorReport, error)
	UpdateReportStatus(ctx context.Context, id string, status Status, updatedAt time.Time) (int64, error)
	UpdateReportAssignee(ctx context.Context, id string, assigneeID *string, updatedAt time.Time) (int64, error)
	DeleteReport(ctx context.Context, id string) (int64, error)

	InsertAttachments(ctx context.Context, values []Attachment) error
	ListAttachments(ctx context.Context, reportIDs []string) ([]Attachment, error)
	CountAttachmentsByPath(ctx context.Context, path string) (int64, error)

	AppendHistory(ctx context.Context, value HistoryEntry) error
	ListHistory(ctx context.Context, reportID string) ([]HistoryEntry, error)

	CountByStatus(ctx context.Context, statuses ...Status) (int64, error)
	CountStatusUpdatedBetween(ctx context.Context, status Status, from, to time.Time) (int64, error)
	GroupCounts(ctx context.Context, dimension StatDimension) ([]KeyCount, error)
}

type AccountRepository interface {
	CreateUser(ctx context.Context, value User) (User, error)
	CountUsers(ctx context.Context) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, query string, limit int) ([]User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) (int64, error)
	CountUserReferences(ctx context.Context, userID string) (int64, error)
	DeleteUser(ctx context.Context, userID string) (int64, error)

	CreateSession(ctx context.Context, value AuthSession) (AuthSession, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (AuthSession, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	CreateAPIToken(ctx context.Context, value APIToken) (APIToken, error)
	GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (APIToken, error)
	DeleteAPITokenByTokenHash(ctx context.Context, tokenHash string) error
	DeleteCredentials(ctx context.Context, userID string) error

	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditRecord, error)
}

// FileStore keeps uploaded attachment bytes outside the database.
type FileStore interface {
	Save(ctx context.Context, r io.Reader, suggestedName string) (FileAttachment, error)
	Delete(ctx context.Context, path string) error
}
