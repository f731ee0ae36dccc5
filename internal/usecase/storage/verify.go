package storage

import (
	"fmt"
	"hash"
	"io"

	"github.com/bnema/toolshed/internal/domain"
)

// verifyingReader hashes everything read and reports domain.ErrCorrupt at EOF
// when the content does not match the expected locator.
type verifyingReader struct {
	rc      io.ReadCloser
	hasher  hash.Hash
	locator domain.BlobLocator
}

func newVerifyingReader(rc io.ReadCloser, locator domain.BlobLocator) *verifyingReader {
	return &verifyingReader{rc: rc, hasher: domain.NewLocatorHasher(), locator: locator}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	if n > 0 {
		v.hasher.Write(p[:n])
	}
	if err == io.EOF {
		if got := domain.NewBlobLocator(v.hasher.Sum(nil)); !got.Equal(v.locator) {
			return n, fmt.Errorf("%w: blob %s hashed to %s", domain.ErrCorrupt, v.locator, got)
		}
	}
	return n, err
}

func (v *verifyingReader) Close() error {
	return v.rc.Close()
}
