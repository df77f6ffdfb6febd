package domain

import "time"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
	RoleManager Role = "manager"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleManager:
		return true
	}
	return false
}

type ReportType string

const (
	TypeBug         ReportType = "bug"
	TypeFeature     ReportType = "feature"
	TypeImprovement ReportType = "improvement"
	TypeOther       ReportType = "other"
)

var ReportTypes = []ReportType{TypeBug, TypeFeature, TypeImprovement, TypeOther}

func (t ReportType) Valid() bool {
	for _, v := range ReportTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	for _, v := range Severities {
		if s == v {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// HistoryAction names the kind of change a ledger entry records.
type HistoryAction string

const (
	ActionCreate       HistoryAction = "create"
	ActionStatusChange HistoryAction = "status_change"
	ActionComment      HistoryAction = "comment"
	ActionAssign       HistoryAction = "assign"
	ActionAttach       HistoryAction = "attach"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Department   string    `json:"department"`
	CreatedAt    time.Time `json:"created_at"`
}

type ErrorReport struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Type         ReportType `json:"type"`
	Severity     Severity   `json:"severity"`
	Description  string     `json:"description"`
	ReporterID   string     `json:"reporter"`
	ReporterName string     `json:"reporter_name"`
	AssigneeID   *string    `json:"assignee,omitempty"`
	AssigneeName string     `json:"assignee_name,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Attachments  []string   `json:"attachments"`
}

type Attachment struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// FileAttachment is an uploaded file that has not been associated with a report yet.
type FileAttachment struct {
	Filename string `json:"filename" validate:"notblank"`
	Path     string `json:"path" validate:"notblank"`
}

type HistoryEntry struct {
	ID        string        `json:"id"`
	ReportID  string        `json:"report_id"`
	Action    HistoryAction `json:"action"`
	UserID    string        `json:"user_id"`
	Username  string        `json:"username"`
	Details   string        `json:"details"`
	CreatedAt time.Time     `json:"created_at"`
}

type CreateReportRequest struct {
	Title       string           `json:"title" validate:"notblank"`
	Type        ReportType       `json:"type" validate:"required,oneof=bug feature improvement other"`
	Severity    Severity         `json:"severity" validate:"required,oneof=low medium high critical"`
	Description string           `json:"description" validate:"notblank"`
	ReporterID  string           `json:"reporter_id" validate:"notblank"`
	Attachments []FileAttachment `json:"attachments" validate:"dive"`
}

type ReportFilter struct {
	Status   Status     `json:"status,omitempty"`
	Type     ReportType `json:"type,omitempty"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type ReportPage struct {
	Items    []ErrorReport `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type StatSnapshot struct {
	TotalReports  int64         `json:"total_reports"`
	OpenReports   int64         `json:"open_reports"`
	ResolvedToday int64         `json:"resolved_today"`
	ByType        []KeyCount    `json:"by_type"`
	BySeverity    []KeyCount    `json:"by_severity"`
	ByStatus      []KeyCount    `json:"by_status"`
	RecentReports []ErrorReport `json:"recent_reports"`
}

type CreateUserRequest struct {
	Username   string `json:"username" validate:"notblank,max=64"`
	Password   string `json:"password" validate:"required,min=4"`
	Role       Role   `json:"role" validate:"required,oneof=admin user manager"`
	Department string `json:"department" validate:"notblank"`
}

type AuthSession struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type APIToken struct {
	ID        string
	UserID    string
	Name      string
	TokenHash string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

type AuditLog struct {
	ID          string
	ActorUserID *string
	Action      string
	TargetType  string
	TargetID    *string
	Metadata    string
	CreatedAt   time.Time
}

type AuditRecord struct {
	ID            string    `json:"id"`
	ActorUserID   *string   `json:"actor_user_id,omitempty"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	TargetType    string    `json:"target_type"`
	TargetID      *string   `json:"target_id,omitempty"`
	Metadata      string    `json:"metadata"`
	CreatedAt     time.Time `json:"created_at"`
}

type Identity struct {
	User        User
	Permissions map[string]struct{}
}
