package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"regexp"
	"strings"
)

// NamespaceID identifies a logical partition of the blob store.
type NamespaceID string

// RefName is a named, mutable pointer into a namespace's ref space.
type RefName string

// LocatorAlgorithm is the only digest algorithm used for blob locators.
const LocatorAlgorithm = "sha256"

var (
	locatorPattern   = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)
	refNamePattern   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]*(/[a-zA-Z0-9][a-zA-Z0-9._\-]*)*$`)
	namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]*$`)
)

// BlobLocator is a content-derived address for an immutable blob, of the form
// "sha256:<hex>" optionally followed by "#<hint>". The hint is a routing
// aid only; it never participates in identity.
type BlobLocator string

// NewBlobLocator builds a locator from a raw sha256 sum.
func NewBlobLocator(sum []byte) BlobLocator {
	return BlobLocator(LocatorAlgorithm + ":" + hex.EncodeToString(sum))
}

// ComputeBlobLocator hashes data and returns its locator.
func ComputeBlobLocator(data []byte) BlobLocator {
	sum := sha256.Sum256(data)
	return NewBlobLocator(sum[:])
}

// NewLocatorHasher returns the hash used to derive locators from streamed content.
func NewLocatorHasher() hash.Hash {
	return sha256.New()
}

// ParseBlobLocator validates s and returns it as a locator.
func ParseBlobLocator(s string) (BlobLocator, error) {
	loc := BlobLocator(strings.TrimSpace(s))
	if err := loc.Validate(); err != nil {
		return "", err
	}
	return loc, nil
}

// Hash returns the identity part of the locator, without routing hint.
func (l BlobLocator) Hash() string {
	s := string(l)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}

// Hint returns the routing hint, if any.
func (l BlobLocator) Hint() string {
	s := string(l)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// WithHint returns a copy of the locator carrying the given routing hint.
func (l BlobLocator) WithHint(hint string) BlobLocator {
	if hint == "" {
		return BlobLocator(l.Hash())
	}
	return BlobLocator(l.Hash() + "#" + hint)
}

// Digest returns the hex digest without the algorithm prefix.
func (l BlobLocator) Digest() string {
	return strings.TrimPrefix(l.Hash(), LocatorAlgorithm+":")
}

// Equal reports whether both locators address the same content.
func (l BlobLocator) Equal(other BlobLocator) bool {
	return l.Hash() == other.Hash()
}

// IsZero reports whether the locator is empty.
func (l BlobLocator) IsZero() bool {
	return l == ""
}

// Validate checks the locator format.
func (l BlobLocator) Validate() error {
	if !locatorPattern.MatchString(l.Hash()) {
		return fmt.Errorf("%w: %q", ErrInvalidLocator, string(l))
	}
	return nil
}

// String implements fmt.Stringer.
func (l BlobLocator) String() string {
	return string(l)
}

// Validate checks the ref name format. Ref names are slash-separated path
// segments and may not contain "..".
func (r RefName) Validate() error {
	if !refNamePattern.MatchString(string(r)) || strings.Contains(string(r), "..") {
		return fmt.Errorf("%w: %q", ErrInvalidRefName, string(r))
	}
	return nil
}

// Validate checks the namespace id format.
func (n NamespaceID) Validate() error {
	if !namespacePattern.MatchString(string(n)) {
		return fmt.Errorf("%w: invalid namespace id %q", ErrInvalidConfig, string(n))
	}
	return nil
}
