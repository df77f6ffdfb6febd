package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"gorm.io/gorm"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) InTx(ctx context.Context, fn func(tx domain.ReportRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ReportRepository{db: tx})
	})
}

func (r *ReportRepository) InsertReport(ctx context.Context, value domain.ErrorReport) error {
	m := ReportModel{
		ID:          value.ID,
		Title:       value.Title,
		Type:        string(value.Type),
		Severity:    string(value.Severity),
		Description: value.Description,
		Reporter:    value.ReporterID,
		Assignee:    value.AssigneeID,
		Status:      defaultString(string(value.Status), string(domain.StatusOpen)),
		CreatedAt:   value.CreatedAt.UTC(),
		UpdatedAt:   value.UpdatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

const reportSelect = `
SELECT r.id,
       r.title,
       r.type,
       r.severity,
       r.description,
       r.reporter,
       COALESCE(u.username, '') AS reporter_name,
       r.assignee,
       COALESCE(a.username, '') AS assignee_name,
       r.status,
       r.created_at,
       r.updated_at
FROM error_reports r
LEFT JOIN users u ON u.id = r.reporter
LEFT JOIN users a ON a.id = r.assignee
`

type reportRow struct {
	ID           string
	Title        string
	Type         string
	Severity     string
	Description  string
	Reporter     string
	ReporterName string
	Assignee     *string
	AssigneeName string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m reportRow) toDomain() domain.ErrorReport {
	return domain.ErrorReport{
		ID:           m.ID,
		Title:        m.Title,
		Type:         domain.ReportType(m.Type),
		Severity:     domain.Severity(m.Severity),
		Description:  m.Description,
		ReporterID:   m.Reporter,
		ReporterName: m.ReporterName,
		AssigneeID:   m.Assignee,
		AssigneeName: m.AssigneeName,
		Status:       domain.Status(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		Attachments:  []string{},
	}
}

func (r *ReportRepository) GetReport(ctx context.Context, id string) (domain.ErrorReport, error) {
	rows := make([]reportRow, 0, 1)
	if err := r.db.WithContext(ctx).Raw(reportSelect+"WHERE r.id = ?", id).Scan(&rows).Error; err != nil {
		return domain.ErrorReport{}, err
	}
	if len(rows) == 0 {
		return domain.ErrorReport{}, domain.ErrNotFound
	}
	return rows[0].toDomain(), nil
}

func reportWhere(filter domain.ReportFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.Status != "" {
		clauses = append(clauses, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		clauses = append(clauses, "r.type = ?")
		args = append(args, string(filter.Type))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND ") + "\n", args
}

func (r *ReportRepository) CountReports(ctx context.Context, filter domain.ReportFilter) (int64, error) {
	where, args := reportWhere(filter)
	var count int64
	err := r.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM error_reports r\n"+where, args...).Scan(&count).Error
	return count, err
}

func (r *ReportRepository) ListReports(ctx context.Context, filter domain.ReportFilter, limit, offset int) ([]domain.ErrorReport, error) {
	where, args := reportWhere(filter)
	args = append(args, limit, offset)

	rows := make([]reportRow, 0)
	err := r.db.WithContext(ctx).Raw(reportSelect+where+"ORDER BY r.created_at DESC, r.rowid DESC\nLIMIT ? OFFSET ?", args...).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.ErrorReport, 0, len(rows))
	for _, m := range rows {
		result = append(result, m.toDomain())
	}
	return result, nil
}

func (r *ReportRepository) UpdateReportStatus(ctx context.Context, id string, status domain.Status, updatedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&ReportModel{}).Where("id = ?", id).UpdateColumns(map[string]any{
		"status":     string(status),
		"updated_at": updatedAt.UTC(),
	})
	return res.RowsAffected, res.Error
}

func (r *ReportRepository) UpdateReportAssignee(ctx context.Context, id string, assigneeID *string, updatedAt time.Time) (int64, error) {
	var assignee any
	if assigneeID != nil {
		assignee = *assigneeID
	}
	res := r.db.WithContext(ctx).Model(&ReportModel{}).Where("id = ?", id).UpdateColumns(map[string]any{
		"assignee":   assignee,
		"updated_at": updatedAt.UTC(),
	})
	return res.RowsAffected, res.Error
}

func (r *ReportRepository) DeleteReport(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ReportModel{})
	return res.RowsAffected, res.Error
}

func (r *ReportRepository) InsertAttachments(ctx context.Context, values []domain.Attachment) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]AttachmentModel, 0, len(values))
	for _, v := range values {
		rows = append(rows, AttachmentModel{
			ID:        v.ID,
			ReportID:  v.ReportID,
			Filename:  v.Filename,
			Path:      v.Path,
			CreatedAt: v.CreatedAt.UTC(),
		})
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *ReportRepository) ListAttachments(ctx context.Context, reportIDs []string) ([]domain.Attachment, error) {
	if len(reportIDs) == 0 {
		return []domain.Attachment{}, nil
	}

	rows := make([]AttachmentModel, 0)
	err := r.db.WithContext(ctx).
		Where("report_id IN ?", reportIDs).
		Order("created_at ASC, rowid ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.Attachment, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.Attachment{
			ID:        m.ID,
			ReportID:  m.ReportID,
			Filename:  m.Filename,
			Path:      m.Path,
			CreatedAt: m.CreatedAt,
		})
	}
	return result, nil
}

func (r *ReportRepository) CountAttachmentsByPath(ctx context.Context, path string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AttachmentModel{}).Where("path = ?", path).Count(&n).Error
	return n, err
}

func (r *ReportRepository) AppendHistory(ctx context.Context, value domain.HistoryEntry) error {
	m := HistoryModel{
		ID:        value.ID,
		ReportID:  value.ReportID,
		Action:    string(value.Action),
		UserID:    value.UserID,
		Details:   value.Details,
		CreatedAt: value.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *ReportRepository) ListHistory(ctx context.Context, reportID string) ([]domain.HistoryEntry, error) {
	type row struct {
		ID        string
		ReportID  string
		Action    string
		UserID    string
		Username  string
		Details   string
		CreatedAt time.Time
	}
	rows := make([]row, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT h.id,
       h.report_id,
       h.action,
       h.user_id,
       COALESCE(u.username, '') AS username,
       h.details,
       h.created_at
FROM report_history h
LEFT JOIN users u ON u.id = h.user_id
WHERE h.report_id = ?
ORDER BY h.created_at DESC, h.rowid DESC
`, reportID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.HistoryEntry, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.HistoryEntry{
			ID:        m.ID,
			ReportID:  m.ReportID,
			Action:    domain.HistoryAction(m.Action),
			UserID:    m.UserID,
			Username:  m.Username,
			Details:   m.Details,
			CreatedAt: m.CreatedAt,
		})
	}
	return result, nil
}

func (r *ReportRepository) CountByStatus(ctx context.Context, statuses ...domain.Status) (int64, error) {
	q := r.db.WithContext(ctx).Model(&ReportModel{})
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, string(s))
		}
		q = q.Where("status IN ?", values)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (r *ReportRepository) CountStatusUpdatedBetween(ctx context.Context, status domain.Status, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ReportModel{}).
		Where("status = ? AND updated_at >= ? AND updated_at < ?", string(status), from.UTC(), to.UTC()).
		Count(&count).Error
	return count, err
}

func (r *ReportRepository) GroupCounts(ctx context.Context, dimension domain.StatDimension) ([]domain.KeyCount, error) {
	var column string
	switch dimension {
	case domain.DimensionType:
		column = "type"
	case domain.DimensionSeverity:
		column = "severity"
	case domain.DimensionStatus:
		column = "status"
	default:
		return nil, domain.NewValidationError("dimension", "unknown statistics dimension "+string(dimension))
	}

	type row struct {
		Name  string
		Total int64
	}
	rows := make([]row, 0)
	err := r.db.WithContext(ctx).Raw(
		"SELECT " + column + " AS name, COUNT(*) AS total FROM error_reports GROUP BY " + column + " ORDER BY " + column,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.KeyCount, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.KeyCount{Key: m.Name, Count: m.Total})
	}
	return result, nil
}

func (r *ReportRepository) LookupUsername(ctx context.Context, userID string) (string, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Select("id", "username").Where("id = ?", userID).First(&m).Error; err != nil {
		return "", notFound(err)
	}
	return m.Username, nil
}
