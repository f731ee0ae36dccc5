// Package nsconfig provides namespace access-control configuration.
package nsconfig

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bnema/toolshed/internal/domain"
)

// Static implements out.NamespaceConfigProvider from an in-memory table.
type Static struct {
	mu      sync.RWMutex
	configs map[domain.NamespaceID]*domain.NamespaceConfig
}

// NewStatic creates a provider serving the given configurations.
func NewStatic(configs ...domain.NamespaceConfig) *Static {
	s := &Static{configs: make(map[domain.NamespaceID]*domain.NamespaceConfig, len(configs))}
	for _, cfg := range configs {
		s.Set(cfg)
	}
	return s
}

// TryGetNamespace returns the configuration of a namespace.
func (s *Static) TryGetNamespace(id domain.NamespaceID) (*domain.NamespaceConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	return cfg, ok
}

// Set replaces the configuration of one namespace.
func (s *Static) Set(cfg domain.NamespaceConfig) {
	c := cfg
	c.Acl = append([]domain.AclEntry(nil), cfg.Acl...)

	s.mu.Lock()
	s.configs[cfg.ID] = &c
	s.mu.Unlock()
}

// EntrySettings is the configuration-file form of one ACL entry.
type EntrySettings struct {
	Claim   string   `mapstructure:"claim" yaml:"claim"`
	Actions []string `mapstructure:"actions" yaml:"actions"`
}

// ParseEntries converts ACL settings into domain entries.
func ParseEntries(ns domain.NamespaceID, settings []EntrySettings) ([]domain.AclEntry, error) {
	entries := make([]domain.AclEntry, 0, len(settings))
	for i, es := range settings {
		claim, err := domain.ParseClaim(es.Claim)
		if err != nil {
			return nil, fmt.Errorf("namespace %s acl[%d]: %w", ns, i, err)
		}
		if len(es.Actions) == 0 {
			return nil, fmt.Errorf("%w: namespace %s acl[%d] grants no actions", domain.ErrInvalidConfig, ns, i)
		}
		entry := domain.AclEntry{Claim: claim}
		for _, a := range es.Actions {
			action, err := domain.ParseAclAction(strings.TrimSpace(a))
			if err != nil {
				return nil, fmt.Errorf("namespace %s acl[%d]: %w", ns, i, err)
			}
			entry.Actions = append(entry.Actions, action)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
