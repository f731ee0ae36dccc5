package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/toolshed/internal/domain"
)

// Decoder turns raw blob bytes into a typed value.
type Decoder[T any] interface {
	// Kind names the encoding; it keys the arena together with the locator.
	Kind() string
	Decode(data []byte) (T, error)
}

type decoderFunc[T any] struct {
	kind string
	fn   func([]byte) (T, error)
}

func (d decoderFunc[T]) Kind() string                  { return d.kind }
func (d decoderFunc[T]) Decode(data []byte) (T, error) { return d.fn(data) }

// NewDecoder builds a Decoder from a function.
func NewDecoder[T any](kind string, fn func([]byte) (T, error)) Decoder[T] {
	return decoderFunc[T]{kind: kind, fn: fn}
}

// DirectoryDecoder decodes directory nodes.
var DirectoryDecoder = NewDecoder(domain.DirectoryNodeKind, domain.DecodeDirectoryNode)

// RawDecoder returns blob bytes unchanged.
var RawDecoder = NewDecoder("raw", func(data []byte) ([]byte, error) { return data, nil })

// BlobRef is a typed, lazily resolved handle over a blob locator within a namespace.
// Resolved values are shared between callers and must not be mutated.
type BlobRef[T any] struct {
	ns      *Namespace
	locator domain.BlobLocator
	decoder Decoder[T]
}

// CreateBlobRef builds a reference without touching the backend.
func CreateBlobRef[T any](ns *Namespace, locator domain.BlobLocator, decoder Decoder[T]) *BlobRef[T] {
	return &BlobRef[T]{ns: ns, locator: locator, decoder: decoder}
}

// Locator returns the referenced locator.
func (r *BlobRef[T]) Locator() domain.BlobLocator {
	return r.locator
}

// Namespace returns the namespace the reference resolves in.
func (r *BlobRef[T]) Namespace() *Namespace {
	return r.ns
}

// Resolve fetches, verifies and decodes the blob once per namespace and locator.
// Returns domain.ErrBlobNotFound if the blob is unknown and domain.ErrCorrupt if
// it fails verification or decoding.
func (r *BlobRef[T]) Resolve(ctx context.Context) (T, error) {
	var zero T
	if err := r.locator.Validate(); err != nil {
		return zero, err
	}

	key := r.decoder.Kind() + "|" + r.locator.Hash()
	v, err := r.ns.arena.resolve(ctx, key, func(ctx context.Context) (any, error) {
		data, err := r.ns.ReadBlob(ctx, r.locator)
		if err != nil {
			return nil, err
		}
		value, err := r.decoder.Decode(data)
		if err != nil {
			if errors.Is(err, domain.ErrCorrupt) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: decode %s as %s: %w", domain.ErrCorrupt, r.locator, r.decoder.Kind(), err)
		}
		return value, nil
	})
	if err != nil {
		return zero, err
	}

	value, ok := v.(T)
	if !ok {
		r.ns.arena.forget(key)
		return zero, fmt.Errorf("%w: %s cached as %T", domain.ErrCorrupt, r.locator, v)
	}
	return value, nil
}
