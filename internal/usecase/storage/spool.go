package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bnema/toolshed/internal/domain"
)

// SpoolFile is an upload buffered to a temporary file together with its locator.
type SpoolFile struct {
	Locator domain.BlobLocator
	Size    int64
	file    *os.File
}

// Spool copies r into a temporary file under dir while hashing it.
// The file is removed on any error; callers must Close the result.
func Spool(ctx context.Context, dir string, r io.Reader) (*SpoolFile, error) {
	if r == nil {
		return nil, domain.ErrEmptyContent
	}

	file, err := os.CreateTemp(dir, "upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: create spool file: %w", domain.ErrStorageFailure, err)
	}

	hasher := domain.NewLocatorHasher()
	size, err := io.Copy(io.MultiWriter(file, hasher), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		file.Close()
		removeQuietly(file.Name())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: spool upload: %w", domain.ErrStorageFailure, err)
	}

	return &SpoolFile{
		Locator: domain.NewBlobLocator(hasher.Sum(nil)),
		Size:    size,
		file:    file,
	}, nil
}

// Reader returns a reader over the whole spooled content.
func (s *SpoolFile) Reader() io.Reader {
	return io.NewSectionReader(s.file, 0, s.Size)
}

// ReaderAt exposes random access to the spooled content.
func (s *SpoolFile) ReaderAt() io.ReaderAt {
	return s.file
}

// Close closes and removes the temporary file.
func (s *SpoolFile) Close() error {
	err := s.file.Close()
	removeQuietly(s.file.Name())
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
