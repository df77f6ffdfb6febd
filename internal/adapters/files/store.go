package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/google/uuid"
)

// LocalStore keeps uploaded files in one directory under generated names.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Save(ctx context.Context, r io.Reader, suggestedName string) (domain.FileAttachment, error) {
	name := filepath.Base(strings.TrimSpace(suggestedName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return domain.FileAttachment{}, domain.NewValidationError("filename", "is required")
	}
	if err := ctx.Err(); err != nil {
		return domain.FileAttachment{}, err
	}

	stored := filepath.Join(s.dir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	f, err := os.OpenFile(stored, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.FileAttachment{}, err
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(stored)
		return domain.FileAttachment{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(stored)
		return domain.FileAttachment{}, err
	}

	return domain.FileAttachment{Filename: name, Path: stored}, nil
}

// Delete removes a stored file. A file that is already gone is not an error.
func (s *LocalStore) Delete(_ context.Context, path string) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", domain.NewValidationError("path", "is required")
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.dir, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(s.dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.NewValidationError("path", "is outside the uploads directory")
	}
	return target, nil
}
