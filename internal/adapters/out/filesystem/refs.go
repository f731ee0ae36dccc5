package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/natefinch/atomic"

	"github.com/bnema/toolshed/internal/domain"
)

// ReadRef resolves a ref.
func (s *BlobStore) ReadRef(_ context.Context, name domain.RefName) (domain.BlobLocator, error) {
	path, err := s.refPath(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrRefNotFound, name)
		}
		return "", fmt.Errorf("failed to read ref: %w", err)
	}

	locator, err := domain.ParseBlobLocator(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: ref %s: %w", domain.ErrCorrupt, name, err)
	}
	return locator, nil
}

// WriteRef creates or moves a ref. Readers see either the old or the new locator.
func (s *BlobStore) WriteRef(_ context.Context, name domain.RefName, locator domain.BlobLocator) error {
	path, err := s.refPath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create ref directory: %w", err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(string(locator))); err != nil {
		return fmt.Errorf("failed to write ref: %w", err)
	}

	s.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "filesystem").
		Str("ref", string(name)).
		Str("locator", string(locator)).
		Msg("ref written")

	return nil
}

// DeleteRef removes a ref. Removing a missing ref is not an error.
func (s *BlobStore) DeleteRef(_ context.Context, name domain.RefName) error {
	path, err := s.refPath(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete ref: %w", err)
	}

	s.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "filesystem").
		Str("ref", string(name)).
		Msg("ref deleted")

	return nil
}

func (s *BlobStore) refPath(name domain.RefName) (string, error) {
	if err := name.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, "refs", filepath.FromSlash(string(name))), nil
}
