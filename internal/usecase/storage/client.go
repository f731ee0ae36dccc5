// Package storage implements content-addressed storage namespaces on top of
// pluggable blob backends.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// Client maps namespace ids to namespaces.
type Client struct {
	mu         sync.RWMutex
	namespaces map[domain.NamespaceID]*Namespace
	opts       []Option
}

// NewClient creates a storage client. Options apply to every registered namespace.
func NewClient(opts ...Option) *Client {
	return &Client{
		namespaces: make(map[domain.NamespaceID]*Namespace),
		opts:       opts,
	}
}

// Register binds a backend to a namespace id.
func (c *Client) Register(id domain.NamespaceID, backend out.StorageBackend) (*Namespace, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: namespace %s has no backend", domain.ErrInvalidConfig, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.namespaces[id]; exists {
		return nil, fmt.Errorf("%w: namespace %s registered twice", domain.ErrInvalidConfig, id)
	}
	ns := NewNamespace(id, backend, c.opts...)
	c.namespaces[id] = ns
	return ns, nil
}

// TryGetNamespace returns the namespace, or false if it does not exist.
func (c *Client) TryGetNamespace(id domain.NamespaceID) (*Namespace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[id]
	return ns, ok
}

// Namespaces returns the registered namespace ids, sorted.
func (c *Client) Namespaces() []domain.NamespaceID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]domain.NamespaceID, 0, len(c.namespaces))
	for id := range c.namespaces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
