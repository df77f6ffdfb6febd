package application

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/adapters/db/sqlite"
	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingFiles struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]bool
}

func (f *recordingFiles) Save(_ context.Context, _ io.Reader, name string) (domain.FileAttachment, error) {
	return domain.FileAttachment{Filename: name, Path: "/uploads/" + name}, nil
}

func (f *recordingFiles) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[path] {
		return errors.New("disk unavailable")
	}
	f.deleted = append(f.deleted, path)
	return nil
}

type recordedCounts struct {
	calls  int
	counts []domain.KeyCount
}

func (r *recordedCounts) RecordStatusCounts(counts []domain.KeyCount) {
	r.calls++
	r.counts = counts
}

type testEnv struct {
	repo     domain.ReportRepository
	reports  *ReportService
	accounts *AccountService
	clock    *testClock
	files    *recordingFiles
	recorder *recordedCounts
	logs     *logtest.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "reportdesk_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close(db) })
	_, err = sqlite.RunMigrations(ctx, db)
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	clock := &testClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	files := &recordingFiles{fail: map[string]bool{}}
	recorder := &recordedCounts{}

	accounts := NewAccountService(sqlite.NewAccountRepository(db), AccountConfig{SessionTTL: time.Hour}, logger)
	accounts.now = clock.Now

	repo := sqlite.NewReportRepository(db)
	reports := NewReportService(
		repo,
		files,
		logger,
		WithClock(clock.Now),
		WithStatusRecorder(recorder),
	)

	return &testEnv{
		repo:     repo,
		reports:  reports,
		accounts: accounts,
		clock:    clock,
		files:    files,
		recorder: recorder,
		logs:     hook,
	}
}

func (e *testEnv) user(t *testing.T, username string, role domain.Role) domain.User {
	t.Helper()
	u, err := e.accounts.CreateUser(context.Background(), domain.CreateUserRequest{
		Username:   username,
		Password:   "secret",
		Role:       role,
		Department: "QA",
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) report(t *testing.T, reporterID, title string, typ domain.ReportType, files ...domain.FileAttachment) string {
	t.Helper()
	id, err := e.reports.CreateReport(context.Background(), domain.CreateReportRequest{
		Title:       title,
		Type:        typ,
		Severity:    domain.SeverityHigh,
		Description: "steps to reproduce",
		ReporterID:  reporterID,
		Attachments: files,
	})
	require.NoError(t, err)
	return id
}

func validationFields(t *testing.T, err error) []domain.FieldError {
	t.Helper()
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Fields
}
