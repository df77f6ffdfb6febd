package application

import (
	"context"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
)

// attachmentResolver flattens report_attachments rows into ErrorReport.Attachments.
// It reads through whichever repository it is given, so it works inside a transaction.
type attachmentResolver struct {
	repo domain.ReportRepository
}

func (a attachmentResolver) Resolve(ctx context.Context, reportID string) ([]string, error) {
	rows, err := a.repo.ListAttachments(ctx, []string{reportID})
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		paths = append(paths, row.Path)
	}
	return paths, nil
}

// Hydrate fills Attachments on every report with one child query.
func (a attachmentResolver) Hydrate(ctx context.Context, reports []domain.ErrorReport) error {
	if len(reports) == 0 {
		return nil
	}

	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}

	rows, err := a.repo.ListAttachments(ctx, ids)
	if err != nil {
		return err
	}

	byReport := make(map[string][]string, len(reports))
	for _, row := range rows {
		byReport[row.ReportID] = append(byReport[row.ReportID], row.Path)
	}

	for i := range reports {
		paths := byReport[reports[i].ID]
		if paths == nil {
			paths = []string{}
		}
		reports[i].Attachments = paths
	}
	return nil
}
