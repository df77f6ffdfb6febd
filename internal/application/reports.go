package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
	recentReports   = 5

	createdDetails = "error report created"
)

type attachmentBatch struct {
	Attachments []domain.FileAttachment `json:"attachments" validate:"dive"`
}

// StatusCountRecorder receives the per-status counts computed by GetStatistics.
type StatusCountRecorder interface {
	RecordStatusCounts(counts []domain.KeyCount)
}

type ReportOption func(*ReportService)

func WithClock(now func() time.Time) ReportOption {
	return func(s *ReportService) { s.now = now }
}

func WithStatusRecorder(r StatusCountRecorder) ReportOption {
	return func(s *ReportService) { s.recorder = r }
}

type ReportService struct {
	repo     domain.ReportRepository
	files    domain.FileStore
	log      logrus.FieldLogger
	now      func() time.Time
	recorder StatusCountRecorder
}

func NewReportService(repo domain.ReportRepository, files domain.FileStore, log logrus.FieldLogger, opts ...ReportOption) *ReportService {
	s := &ReportService{
		repo:  repo,
		files: files,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

func (s *ReportService) CreateReport(ctx context.Context, req domain.CreateReportRequest) (string, error) {
	if err := validateStruct(req); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.now()

	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		if err := requireUser(ctx, tx, "reporter_id", req.ReporterID); err != nil {
			return err
		}

		if err := tx.InsertReport(ctx, domain.ErrorReport{
			ID:          id,
			Title:       strings.TrimSpace(req.Title),
			Type:        req.Type,
			Severity:    req.Severity,
			Description: req.Description,
			ReporterID:  req.ReporterID,
			Status:      domain.StatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}

		if err := tx.InsertAttachments(ctx, attachmentRows(id, req.Attachments, now)); err != nil {
			return err
		}

		return tx.AppendHistory(ctx, domain.HistoryEntry{
			ID:        uuid.NewString(),
			ReportID:  id,
			Action:    domain.ActionCreate,
			UserID:    req.ReporterID,
			Details:   createdDetails,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", storeErr("reports.create", err)
	}

	s.log.WithFields(logrus.Fields{
		"report_id":   id,
		"type":        req.Type,
		"severity":    req.Severity,
		"attachments": len(req.Attachments),
	}).Info("error report created")
	return id, nil
}

func normalizeFilter(filter domain.ReportFilter) (domain.ReportFilter, error) {
	var verr *domain.ValidationError
	if filter.Status != "" && !filter.Status.Valid() {
		verr = domain.NewValidationError("status", "unknown status "+string(filter.Status))
	}
	if filter.Type != "" && !filter.Type.Valid() {
		if verr == nil {
			verr = domain.NewValidationError("type", "unknown type "+string(filter.Type))
		} else {
			verr.Add("type", "unknown type "+string(filter.Type))
		}
	}
	if verr != nil {
		return filter, verr
	}

	if filter.Page < 1 {
		filter.Page = defaultPage
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	return filter, nil
}

// pageOffset reports false when the page lies beyond any representable offset.
func pageOffset(filter domain.ReportFilter) (int, bool) {
	if filter.Page-1 > math.MaxInt/filter.PageSize {
		return 0, false
	}
	return (filter.Page - 1) * filter.PageSize, true
}

func (s *ReportService) GetReports(ctx context.Context, filter domain.ReportFilter) (domain.ReportPage, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return domain.ReportPage{}, err
	}

	page := domain.ReportPage{Items: []domain.ErrorReport{}, Page: filter.Page, PageSize: filter.PageSize}
	err = s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		total, err := tx.CountReports(ctx, filter)
		if err != nil {
			return err
		}
		page.Total = total
		offset, ok := pageOffset(filter)
		if !ok {
			return nil
		}
		items, err := tx.ListReports(ctx, filter, filter.PageSize, offset)
		if err != nil {
			return err
		}
		if err := (attachmentResolver{repo: tx}).Hydrate(ctx, items); err != nil {
			return err
		}
		page.Items = items
		return nil
	})
	if err != nil {
		return domain.ReportPage{}, storeErr("reports.list", err)
	}
	return page, nil
}

// GetReportByID returns (nil, nil) when the report does not exist.
func (s *ReportService) GetReportByID(ctx context.Context, id string) (*domain.ErrorReport, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.NewValidationError("id", "is required")
	}

	var report domain.ErrorReport
	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		var err error
		report, err = loadReport(ctx, tx, id)
		if err != nil {
			return err
		}
		report.Attachments, err = attachmentResolver{repo: tx}.Resolve(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("reports.get", err)
	}
	return &report, nil
}

func (s *ReportService) UpdateStatus(ctx context.Context, reportID string, status domain.Status, userID, comment string) error {
	verr := requireText(nil, "report_id", reportID)
	verr = requireText(verr, "user_id", userID)
	if !status.Valid() {
		if verr == nil {
			verr = domain.NewValidationError("status", "unknown status "+string(status))
		} else {
			verr.Add("status", "unknown status "+string(status))
		}
	}
	if err := asError(verr); err != nil {
		return err
	}

	details := strings.TrimSpace(comment)
	if details == "" {
		details = "status changed to: " + string(status)
	}

	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		current, err := loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, "user_id", userID); err != nil {
			return err
		}

		at := notBefore(s.now(), current.UpdatedAt)
		if _, err := tx.UpdateReportStatus(ctx, reportID, status, at); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			ID:        uuid.NewString(),
			ReportID:  reportID,
			Action:    domain.ActionStatusChange,
			UserID:    userID,
			Details:   details,
			CreatedAt: at,
		})
	})
	if err != nil {
		return storeErr("reports.status", err)
	}

	s.log.WithFields(logrus.Fields{"report_id": reportID, "status": status, "user_id": userID}).Info("report status changed")
	return nil
}

func (s *ReportService) AssignReport(ctx context.Context, reportID, assigneeID, userID string) error {
	verr := requireText(nil, "report_id", reportID)
	verr = requireText(verr, "user_id", userID)
	if err := asError(verr); err != nil {
		return err
	}

	var assignee *string
	if id := strings.TrimSpace(assigneeID); id != "" {
		assignee = &id
	}

	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		current, err := loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, "user_id", userID); err != nil {
			return err
		}

		details := "assignee cleared"
		if assignee != nil {
			name, err := tx.LookupUsername(ctx, *assignee)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewValidationError("assignee_id", "unknown user "+*assignee)
			}
			if err != nil {
				return err
			}
			details = "assigned to: " + name
		}

		at := notBefore(s.now(), current.UpdatedAt)
		if _, err := tx.UpdateReportAssignee(ctx, reportID, assignee, at); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			ID:        uuid.NewString(),
			ReportID:  reportID,
			Action:    domain.ActionAssign,
			UserID:    userID,
			Details:   details,
			CreatedAt: at,
		})
	})
	if err != nil {
		return storeErr("reports.assign", err)
	}

	s.log.WithFields(logrus.Fields{"report_id": reportID, "assignee_id": assigneeID, "user_id": userID}).Info("report assigned")
	return nil
}

func (s *ReportService) AddComment(ctx context.Context, reportID, userID, comment string) error {
	verr := requireText(nil, "report_id", reportID)
	verr = requireText(verr, "user_id", userID)
	verr = requireText(verr, "comment", comment)
	if err := asError(verr); err != nil {
		return err
	}

	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		current, err := loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, "user_id", userID); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			ID:        uuid.NewString(),
			ReportID:  reportID,
			Action:    domain.ActionComment,
			UserID:    userID,
			Details:   strings.TrimSpace(comment),
			CreatedAt: notBefore(s.now(), current.UpdatedAt),
		})
	})
	return storeErr("reports.comment", err)
}

func (s *ReportService) AddAttachments(ctx context.Context, reportID, userID string, files []domain.FileAttachment) error {
	verr := requireText(nil, "report_id", reportID)
	verr = requireText(verr, "user_id", userID)
	if len(files) == 0 {
		if verr == nil {
			verr = domain.NewValidationError("attachments", "at least one attachment is required")
		} else {
			verr.Add("attachments", "at least one attachment is required")
		}
	}
	if err := asError(verr); err != nil {
		return err
	}
	if err := validateStruct(attachmentBatch{Attachments: files}); err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}

	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		current, err := loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, "user_id", userID); err != nil {
			return err
		}

		at := notBefore(s.now(), current.UpdatedAt)
		if err := tx.InsertAttachments(ctx, attachmentRows(reportID, files, at)); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			ID:        uuid.NewString(),
			ReportID:  reportID,
			Action:    domain.ActionAttach,
			UserID:    userID,
			Details:   "attached: " + strings.Join(names, ", "),
			CreatedAt: at,
		})
	})
	if err != nil {
		return storeErr("reports.attach", err)
	}

	s.log.WithFields(logrus.Fields{"report_id": reportID, "attachments": len(files)}).Info("attachments added")
	return nil
}

// DeleteReport removes the report and its child rows, then the stored files
// no other report still references. File removal failures are logged and do
// not fail the call.
func (s *ReportService) DeleteReport(ctx context.Context, reportID string) error {
	if strings.TrimSpace(reportID) == "" {
		return domain.NewValidationError("report_id", "is required")
	}

	var paths []string
	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		if _, err := loadReport(ctx, tx, reportID); err != nil {
			return err
		}
		attached, err := attachmentResolver{repo: tx}.Resolve(ctx, reportID)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteReport(ctx, reportID); err != nil {
			return err
		}
		for _, p := range attached {
			if slices.Contains(paths, p) {
				continue
			}
			refs, err := tx.CountAttachmentsByPath(ctx, p)
			if err != nil {
				return err
			}
			if refs == 0 {
				paths = append(paths, p)
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("reports.delete", err)
	}

	if s.files != nil {
		for _, p := range paths {
			if err := s.files.Delete(ctx, p); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"report_id": reportID, "path": p}).Warn("remove attachment file")
			}
		}
	}

	s.log.WithFields(logrus.Fields{"report_id": reportID, "files": len(paths)}).Info("error report deleted")
	return nil
}

func (s *ReportService) GetReportHistory(ctx context.Context, reportID string) ([]domain.HistoryEntry, error) {
	if strings.TrimSpace(reportID) == "" {
		return nil, domain.NewValidationError("report_id", "is required")
	}

	entries, err := s.repo.ListHistory(ctx, reportID)
	if err != nil {
		return nil, storeErr("reports.history", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

func (s *ReportService) GetStatistics(ctx context.Context) (domain.StatSnapshot, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var snap domain.StatSnapshot
	err := s.repo.InTx(ctx, func(tx domain.ReportRepository) error {
		var err error
		if snap.TotalReports, err = tx.CountByStatus(ctx); err != nil {
			return err
		}
		if snap.OpenReports, err = tx.CountByStatus(ctx, domain.StatusOpen, domain.StatusInProgress); err != nil {
			return err
		}
		if snap.ResolvedToday, err = tx.CountStatusUpdatedBetween(ctx, domain.StatusResolved, dayStart, dayEnd); err != nil {
			return err
		}
		if snap.ByType, err = tx.GroupCounts(ctx, domain.DimensionType); err != nil {
			return err
		}
		if snap.BySeverity, err = tx.GroupCounts(ctx, domain.DimensionSeverity); err != nil {
			return err
		}
		if snap.ByStatus, err = tx.GroupCounts(ctx, domain.DimensionStatus); err != nil {
			return err
		}
		if snap.RecentReports, err = tx.ListReports(ctx, domain.ReportFilter{}, recentReports, 0); err != nil {
			return err
		}
		return attachmentResolver{repo: tx}.Hydrate(ctx, snap.RecentReports)
	})
	if err != nil {
		return domain.StatSnapshot{}, storeErr("reports.stats", err)
	}

	if s.recorder != nil {
		s.recorder.RecordStatusCounts(snap.ByStatus)
	}
	return snap, nil
}

func loadReport(ctx context.Context, tx domain.ReportRepository, id string) (domain.ErrorReport, error) {
	report, err := tx.GetReport(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrorReport{}, reportNotFound(id)
	}
	return report, err
}

func requireUser(ctx context.Context, tx domain.ReportRepository, field, userID string) error {
	_, err := tx.LookupUsername(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewValidationError(field, fmt.Sprintf("unknown user %s", userID))
	}
	return err
}

func attachmentRows(reportID string, files []domain.FileAttachment, at time.Time) []domain.Attachment {
	rows := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		rows = append(rows, domain.Attachment{
			ID:        uuid.NewString(),
			ReportID:  reportID,
			Filename:  f.Filename,
			Path:      f.Path,
			CreatedAt: at,
		})
	}
	return rows
}

// notBefore keeps updated_at monotonic when the clock steps backwards.
func notBefore(now, floor time.Time) time.Time {
	if now.Before(floor) {
		return floor
	}
	return now
}
