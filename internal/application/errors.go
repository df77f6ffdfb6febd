package application

import (
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
)

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) || errors.Is(err, domain.ErrUnauthorized) {
		return err
	}
	if domain.IsValidation(err) || domain.IsStore(err) {
		return err
	}
	return &domain.StoreError{Op: op, Err: err}
}

func reportNotFound(id string) error {
	return fmt.Errorf("report %q: %w", id, domain.ErrNotFound)
}

func userNotFound(id string) error {
	return fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
}
