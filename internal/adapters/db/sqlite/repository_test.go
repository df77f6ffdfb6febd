package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "reportdesk_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	applied, err := RunMigrations(ctx, db)
	if err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("expected 3 migrations applied, got %v", applied)
	}
	return db
}

func seedUser(t *testing.T, accounts *AccountRepository, id, username string) domain.User {
	t.Helper()
	u, err := accounts.CreateUser(context.Background(), domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		Department:   "QA",
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func seedReport(t *testing.T, repo *ReportRepository, id, reporter string, typ domain.ReportType, status domain.Status, at time.Time) {
	t.Helper()
	err := repo.InsertReport(context.Background(), domain.ErrorReport{
		ID:          id,
		Title:       "report " + id,
		Type:        typ,
		Severity:    domain.SeverityMedium,
		Description: "details",
		ReporterID:  reporter,
		Status:      status,
		CreatedAt:   at,
		UpdatedAt:   at,
	})
	if err != nil {
		t.Fatalf("insert report %s: %v", id, err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	applied, err := RunMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied on second run, got %v", applied)
	}
}

func TestReportRoundTripJoinsUsernames(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	accounts := NewAccountRepository(db)
	repo := NewReportRepository(db)

	seedUser(t, accounts, "u1", "alice")
	seedUser(t, accounts, "u2", "bob")
	created := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	seedReport(t, repo, "r1", "u1", domain.TypeBug, domain.StatusOpen, created)

	assignee := "u2"
	if n, err := repo.UpdateReportAssignee(ctx, "r1", &assignee, created.Add(time.Minute)); err != nil || n != 1 {
		t.Fatalf("assign: n=%d err=%v", n, err)
	}

	got, err := repo.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got.ReporterName != "alice" || got.AssigneeName != "bob" {
		t.Fatalf("unexpected names: %+v", got)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "u2" {
		t.Fatalf("unexpected assignee id: %v", got.AssigneeID)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at mismatch: %v != %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Fatalf("updated_at mismatch: %v", got.UpdatedAt)
	}

	if _, err := repo.UpdateReportAssignee(ctx, "r1", nil, created.Add(2*time.Minute)); err != nil {
		t.Fatalf("clear assignee: %v", err)
	}
	got, _ = repo.GetReport(ctx, "r1")
	if got.AssigneeID != nil || got.AssigneeName != "" {
		t.Fatalf("expected cleared assignee, got %+v", got)
	}

	if _, err := repo.GetReport(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListReportsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewReportRepository(db)
	seedUser(t, NewAccountRepository(db), "u1", "alice")

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedReport(t, repo, "a", "u1", domain.TypeBug, domain.StatusOpen, base)
	seedReport(t, repo, "b", "u1", domain.TypeFeature, domain.StatusOpen, base.Add(time.Hour))
	seedReport(t, repo, "c", "u1", domain.TypeBug, domain.StatusClosed, base.Add(2*time.Hour))
	seedReport(t, repo, "d", "u1", domain.TypeBug, domain.StatusOpen, base.Add(3*time.Hour))

	filter := domain.ReportFilter{Status: domain.StatusOpen, Type: domain.TypeBug}
	total, err := repo.CountReports(ctx, filter)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 open bugs, got %d", total)
	}

	items, err := repo.ListReports(ctx, filter, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != "d" || items[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", items)
	}

	page2, err := repo.ListReports(ctx, domain.ReportFilter{}, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "b" || page2[1].ID != "a" {
		t.Fatalf("unexpected page 2: %+v", page2)
	}
}

func TestDeleteReportCascadesChildren(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewReportRepository(db)
	seedUser(t, NewAccountRepository(db), "u1", "alice")

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedReport(t, repo, "r1", "u1", domain.TypeBug, domain.StatusOpen, at)
	if err := repo.InsertAttachments(ctx, []domain.Attachment{
		{ID: "a1", ReportID: "r1", Filename: "one.png", Path: "/tmp/one.png", CreatedAt: at},
		{ID: "a2", ReportID: "r1", Filename: "two.png", Path: "/tmp/two.png", CreatedAt: at},
	}); err != nil {
		t.Fatalf("insert attachments: %v", err)
	}
	if err := repo.AppendHistory(ctx, domain.HistoryEntry{ID: "h1", ReportID: "r1", Action: domain.ActionCreate, UserID: "u1", Details: "created", CreatedAt: at}); err != nil {
		t.Fatalf("append history: %v", err)
	}

	attachments, err := repo.ListAttachments(ctx, []string{"r1"})
	if err != nil {
		t.Fatalf("list attachments: %v", err)
	}
	if len(attachments) != 2 || attachments[0].ID != "a1" || attachments[1].ID != "a2" {
		t.Fatalf("attachments should keep insertion order: %+v", attachments)
	}

	n, err := repo.DeleteReport(ctx, "r1")
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}

	attachments, _ = repo.ListAttachments(ctx, []string{"r1"})
	history, _ := repo.ListHistory(ctx, "r1")
	if len(attachments) != 0 || len(history) != 0 {
		t.Fatalf("children should cascade: attachments=%d history=%d", len(attachments), len(history))
	}
}

func TestCountAttachmentsByPath(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewReportRepository(db)
	seedUser(t, NewAccountRepository(db), "u1", "alice")

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedReport(t, repo, "r1", "u1", domain.TypeBug, domain.StatusOpen, at)
	seedReport(t, repo, "r2", "u1", domain.TypeBug, domain.StatusOpen, at)
	if err := repo.InsertAttachments(ctx, []domain.Attachment{
		{ID: "a1", ReportID: "r1", Filename: "a.png", Path: "/up/a.png", CreatedAt: at},
		{ID: "a2", ReportID: "r2", Filename: "a.png", Path: "/up/a.png", CreatedAt: at},
		{ID: "a3", ReportID: "r2", Filename: "b.png", Path: "/up/b.png", CreatedAt: at},
	}); err != nil {
		t.Fatalf("insert attachments: %v", err)
	}

	if n, err := repo.CountAttachmentsByPath(ctx, "/up/a.png"); err != nil || n != 2 {
		t.Fatalf("shared path: n=%d err=%v", n, err)
	}
	if _, err := repo.DeleteReport(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, err := repo.CountAttachmentsByPath(ctx, "/up/a.png"); err != nil || n != 1 {
		t.Fatalf("after delete: n=%d err=%v", n, err)
	}
	if n, err := repo.CountAttachmentsByPath(ctx, "/up/none.png"); err != nil || n != 0 {
		t.Fatalf("unknown path: n=%d err=%v", n, err)
	}
}

func TestHistoryRequiresExistingReport(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewReportRepository(db)
	seedUser(t, NewAccountRepository(db), "u1", "alice")

	err := repo.AppendHistory(ctx, domain.HistoryEntry{ID: "h1", ReportID: "nope", Action: domain.ActionComment, UserID: "u1", Details: "x", CreatedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected foreign key failure")
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewReportRepository(db)
	seedUser(t, NewAccountRepository(db), "u1", "alice")

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(tx domain.ReportRepository) error {
		if err := tx.InsertReport(ctx, domain.ErrorReport{
			ID: "r1", Title: "t", Type: domain.TypeBug, Severity: domain.SeverityLow,
			Description: "d", ReporterID: "u1", Status: domain.StatusOpen,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	total, err := repo.CountReports(ctx, domain.ReportFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("transaction should have rolled back, got %d reports", total)
	}
}

func TestStatisticsQueries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewReportRepository(db)
	seedUser(t, NewAccountRepository(db), "u1", "alice")

	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	seedReport(t, repo, "a", "u1", domain.TypeBug, domain.StatusOpen, day.Add(-48*time.Hour))
	seedReport(t, repo, "b", "u1", domain.TypeBug, domain.StatusInProgress, day.Add(-24*time.Hour))
	seedReport(t, repo, "c", "u1", domain.TypeFeature, domain.StatusResolved, day.Add(-24*time.Hour))
	seedReport(t, repo, "d", "u1", domain.TypeOther, domain.StatusResolved, day.Add(-24*time.Hour))
	if _, err := repo.UpdateReportStatus(ctx, "c", domain.StatusResolved, day.Add(9*time.Hour)); err != nil {
		t.Fatalf("update: %v", err)
	}

	active, err := repo.CountByStatus(ctx, domain.StatusOpen, domain.StatusInProgress)
	if err != nil || active != 2 {
		t.Fatalf("active: %d %v", active, err)
	}
	all, err := repo.CountByStatus(ctx)
	if err != nil || all != 4 {
		t.Fatalf("all: %d %v", all, err)
	}

	today, err := repo.CountStatusUpdatedBetween(ctx, domain.StatusResolved, day, day.Add(24*time.Hour))
	if err != nil || today != 1 {
		t.Fatalf("resolved today: %d %v", today, err)
	}

	byType, err := repo.GroupCounts(ctx, domain.DimensionType)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	want := []domain.KeyCount{{Key: "bug", Count: 2}, {Key: "feature", Count: 1}, {Key: "other", Count: 1}}
	if len(byType) != len(want) {
		t.Fatalf("unexpected groups: %+v", byType)
	}
	for i := range want {
		if byType[i] != want[i] {
			t.Fatalf("group %d: got %+v want %+v", i, byType[i], want[i])
		}
	}

	if _, err := repo.GroupCounts(ctx, domain.StatDimension("title")); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown dimension, got %v", err)
	}
}

func TestAccountCredentialsAndReferences(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	accounts := NewAccountRepository(db)
	repo := NewReportRepository(db)

	alice := seedUser(t, accounts, "u1", "alice")
	seedUser(t, accounts, "u2", "bob")

	if _, err := accounts.GetUserByUsername(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Now().UTC()
	if _, err := accounts.CreateSession(ctx, domain.AuthSession{ID: "s1", UserID: alice.ID, TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := accounts.CreateAPIToken(ctx, domain.APIToken{ID: "t1", UserID: alice.ID, Name: "cli", TokenHash: "h2", CreatedAt: now}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := accounts.CreateAPIToken(ctx, domain.APIToken{ID: "t2", UserID: alice.ID, Name: "login", TokenHash: "h3", CreatedAt: now}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if err := accounts.DeleteAPITokenByTokenHash(ctx, "h3"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, err := accounts.GetAPITokenByTokenHash(ctx, "h3"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted token should be gone: %v", err)
	}
	if _, err := accounts.GetAPITokenByTokenHash(ctx, "h2"); err != nil {
		t.Fatalf("other token should remain: %v", err)
	}
	if err := accounts.DeleteCredentials(ctx, alice.ID); err != nil {
		t.Fatalf("delete credentials: %v", err)
	}
	if _, err := accounts.GetSessionByTokenHash(ctx, "h1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("session should be gone: %v", err)
	}
	if _, err := accounts.GetAPITokenByTokenHash(ctx, "h2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("token should be gone: %v", err)
	}

	seedReport(t, repo, "r1", "u1", domain.TypeBug, domain.StatusOpen, now)
	refs, err := accounts.CountUserReferences(ctx, "u1")
	if err != nil || refs != 1 {
		t.Fatalf("references of alice: %d %v", refs, err)
	}
	refs, err = accounts.CountUserReferences(ctx, "u2")
	if err != nil || refs != 0 {
		t.Fatalf("references of bob: %d %v", refs, err)
	}

	n, err := accounts.DeleteUser(ctx, "u2")
	if err != nil || n != 1 {
		t.Fatalf("delete bob: n=%d err=%v", n, err)
	}
	users, err := accounts.ListUsers(ctx, "", 10)
	if err != nil || len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected users: %+v %v", users, err)
	}
}

func TestAuditLogsJoinActor(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	accounts := NewAccountRepository(db)
	alice := seedUser(t, accounts, "u1", "alice")

	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	actor := alice.ID
	if err := accounts.CreateAuditLog(ctx, domain.AuditLog{ID: "l1", ActorUserID: &actor, Action: "auth.login", TargetType: "user", TargetID: &actor, CreatedAt: at}); err != nil {
		t.Fatalf("audit 1: %v", err)
	}
	if err := accounts.CreateAuditLog(ctx, domain.AuditLog{ID: "l2", Action: "auth.bootstrap", TargetType: "user", CreatedAt: at.Add(time.Second)}); err != nil {
		t.Fatalf("audit 2: %v", err)
	}

	logs, err := accounts.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 2 || logs[0].ID != "l2" || logs[1].ActorUsername != "alice" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}
}
