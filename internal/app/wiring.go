package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/adapters/out/boltstore"
	"github.com/bnema/toolshed/internal/adapters/out/filesystem"
	"github.com/bnema/toolshed/internal/adapters/out/memory"
	"github.com/bnema/toolshed/internal/adapters/out/nsconfig"
	"github.com/bnema/toolshed/internal/adapters/out/redisstore"
	"github.com/bnema/toolshed/internal/adapters/out/s3store"
	"github.com/bnema/toolshed/internal/adapters/out/sqlitestore"
	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c *closers) add(cl io.Closer) {
	*c = append(*c, cl)
}

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// namespaceSettings returns the configured namespaces, or a single
// filesystem-backed tool namespace when none is configured.
func namespaceSettings(cfg Config) []NamespaceSettings {
	if len(cfg.Storage.Namespaces) > 0 {
		return cfg.Storage.Namespaces
	}
	return []NamespaceSettings{{ID: string(domain.DefaultToolNamespace), Backend: BackendFilesystem}}
}

// createStorage registers one namespace per configured backend and builds the
// matching ACL table.
func createStorage(ctx context.Context, cfg Config, log zerowrap.Logger) (*storage.Client, *nsconfig.Static, closers, error) {
	var opts []storage.Option
	tempDir := cfg.Storage.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(cfg.Server.DataDir, "tmp")
	}
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	opts = append(opts, storage.WithTempDir(tempDir))
	if cfg.Storage.ArenaTTL > 0 {
		opts = append(opts, storage.WithArenaTTL(cfg.Storage.ArenaTTL))
	}
	if cfg.Storage.FetchTimeout > 0 {
		opts = append(opts, storage.WithFetchTimeout(cfg.Storage.FetchTimeout))
	}

	client := storage.NewClient(opts...)
	configs := nsconfig.NewStatic()
	var cls closers

	for _, ns := range namespaceSettings(cfg) {
		id := domain.NamespaceID(ns.ID)

		backend, closer, err := createBackend(ctx, cfg, ns, log)
		if err != nil {
			_ = cls.Close()
			return nil, nil, nil, fmt.Errorf("namespace %s: %w", id, err)
		}
		if closer != nil {
			cls.add(closer)
		}

		if _, err := client.Register(id, backend); err != nil {
			_ = cls.Close()
			return nil, nil, nil, err
		}

		acl, err := nsconfig.ParseEntries(id, ns.ACL)
		if err != nil {
			_ = cls.Close()
			return nil, nil, nil, err
		}
		configs.Set(domain.NamespaceConfig{ID: id, Acl: acl})

		if len(acl) == 0 {
			log.Warn().Str("namespace", ns.ID).Msg("namespace has no ACL entries, every request will be forbidden")
		}
		log.Info().
			Str(zerowrap.FieldLayer, "app").
			Str("namespace", ns.ID).
			Str("backend", backendName(ns)).
			Int(zerowrap.FieldCount, len(acl)).
			Msg("storage namespace registered")
	}

	return client, configs, cls, nil
}

func backendName(ns NamespaceSettings) string {
	if ns.Backend == "" {
		return BackendFilesystem
	}
	return ns.Backend
}

func createBackend(ctx context.Context, cfg Config, ns NamespaceSettings, log zerowrap.Logger) (out.StorageBackend, io.Closer, error) {
	switch backendName(ns) {
	case BackendFilesystem:
		root := ns.Path
		if root == "" {
			root = filepath.Join(cfg.Server.DataDir, "storage", ns.ID)
		}
		store, err := filesystem.NewBlobStore(root, log)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case BackendRedis:
		prefix := ns.Prefix
		if prefix == "" {
			prefix = "toolshed:" + ns.ID + ":"
		}
		store, err := redisstore.New(ctx, ns.URL, prefix, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case BackendS3:
		s3cfg := ns.S3
		if s3cfg.Prefix == "" {
			s3cfg.Prefix = ns.ID
		}
		store, err := s3store.New(ctx, s3cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case BackendMemory:
		return memory.NewBlobStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidConfig, ns.Backend)
	}
}

// createToolStore opens the configured tool record store.
func createToolStore(cfg Config, log zerowrap.Logger) (out.ToolStore, error) {
	path := cfg.Tools.Store.Path
	switch cfg.Tools.Store.Type {
	case StoreBolt:
		if path == "" {
			path = filepath.Join(cfg.Server.DataDir, "tools.db")
		}
		store, err := boltstore.Open(path, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreSQLite:
		if path == "" {
			path = filepath.Join(cfg.Server.DataDir, "tools.sqlite")
		}
		store, err := sqlitestore.Open(path, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreMemory:
		return memory.NewToolStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown tool store %q", domain.ErrInvalidConfig, cfg.Tools.Store.Type)
	}
}

// seedTools writes the tools listed in configuration. Existing deployments
// are kept; metadata is replaced by the configured values.
func seedTools(ctx context.Context, store out.ToolStore, seeds []SeedSettings, log zerowrap.Logger) error {
	for i, seed := range seeds {
		tool, err := seed.Record()
		if err != nil {
			return fmt.Errorf("tools.seed[%d]: %w", i, err)
		}
		if err := store.PutTool(ctx, tool); err != nil {
			return log.WrapErr(err, "failed to seed tool "+seed.ID)
		}
		log.Info().Str(zerowrap.FieldEntityID, seed.ID).Msg("tool seeded from configuration")
	}
	return nil
}
