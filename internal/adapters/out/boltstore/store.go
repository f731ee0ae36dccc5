// Package boltstore implements out.ToolStore on a bbolt database file.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	bolt "go.etcd.io/bbolt"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// Ensure Store implements out.ToolStore.
var _ out.ToolStore = (*Store)(nil)

var toolsBucket = []byte("tools")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("tool store is closed")

// Store keeps one JSON document per tool. Writes run in bbolt's single writer
// transaction, which makes appends and compare-and-swap atomic.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
	log    zerowrap.Logger
}

// Open opens or creates the database at path.
func Open(path string, log zerowrap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: bolt store path is required", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("ensure tool store dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open tool store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(toolsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tool store schema: %w", err)
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "boltstore").
		Str("path", path).
		Msg("tool store opened")

	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, fn func(*bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(toolsBucket))
	})
}

func (s *Store) update(ctx context.Context, fn func(*bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(toolsBucket))
	})
}

// ListToolIDs returns every tool id. bbolt iterates keys in byte order.
func (s *Store) ListToolIDs(ctx context.Context) ([]domain.ToolID, error) {
	var ids []domain.ToolID
	err := s.view(ctx, func(b *bolt.Bucket) error {
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, domain.ToolID(k))
			return nil
		})
	})
	return ids, err
}

// GetTool returns a tool with its deployments.
func (s *Store) GetTool(ctx context.Context, id domain.ToolID) (*domain.Tool, error) {
	var tool *domain.Tool
	err := s.view(ctx, func(b *bolt.Bucket) error {
		var err error
		tool, err = load(b, id)
		return err
	})
	return tool, err
}

// PutTool creates or updates tool metadata, keeping stored deployments.
func (s *Store) PutTool(ctx context.Context, tool *domain.Tool) error {
	return s.update(ctx, func(b *bolt.Bucket) error {
		next := tool.Clone()
		next.Deployments = nil
		if existing, err := load(b, tool.ID); err == nil {
			next.Deployments = existing.Deployments
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return save(b, next)
	})
}

// AppendDeployment appends a deployment record.
func (s *Store) AppendDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment) error {
	return s.update(ctx, func(b *bolt.Bucket) error {
		tool, err := load(b, id)
		if err != nil {
			return err
		}
		if _, exists := tool.FindDeployment(deployment.ID); exists {
			return fmt.Errorf("%w: duplicate deployment id %s", domain.ErrDeploymentConflict, deployment.ID)
		}
		tool.Deployments = append(tool.Deployments, deployment)
		return save(b, tool)
	})
}

// CompareAndSwapDeployment replaces a deployment if its state equals expected.
func (s *Store) CompareAndSwapDeployment(ctx context.Context, id domain.ToolID, deployment domain.ToolDeployment, expected domain.ToolDeploymentState) error {
	return s.update(ctx, func(b *bolt.Bucket) error {
		tool, err := load(b, id)
		if err != nil {
			return err
		}
		current, ok := tool.FindDeployment(deployment.ID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrDeploymentNotFound, deployment.ID)
		}
		if current.State != expected {
			return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrDeploymentConflict, deployment.ID, current.State, expected)
		}
		*current = deployment
		return save(b, tool)
	})
}

func load(b *bolt.Bucket, id domain.ToolID) (*domain.Tool, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, id)
	}
	var tool domain.Tool
	if err := json.Unmarshal(data, &tool); err != nil {
		return nil, fmt.Errorf("decode tool %s: %w", id, err)
	}
	return &tool, nil
}

func save(b *bolt.Bucket, tool *domain.Tool) error {
	data, err := json.Marshal(tool)
	if err != nil {
		return fmt.Errorf("encode tool %s: %w", tool.ID, err)
	}
	return b.Put([]byte(tool.ID), data)
}
