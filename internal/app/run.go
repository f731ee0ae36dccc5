package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bnema/zerowrap"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bnema/toolshed/internal/adapters/in/http/httputil"
	"github.com/bnema/toolshed/internal/adapters/in/http/middleware"
	storagehttp "github.com/bnema/toolshed/internal/adapters/in/http/storage"
	toolshttp "github.com/bnema/toolshed/internal/adapters/in/http/tools"
	"github.com/bnema/toolshed/internal/adapters/out/eventbus"
	"github.com/bnema/toolshed/internal/adapters/out/ratelimit"
	"github.com/bnema/toolshed/internal/adapters/out/telemetry"
	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/acl"
	"github.com/bnema/toolshed/internal/usecase/auth"
	"github.com/bnema/toolshed/internal/usecase/tools"
)

const serviceName = "toolshed"

var version = "dev"

// SetVersion sets the version reported to telemetry.
func SetVersion(v string) {
	version = v
}

// Run loads configuration, wires every component and serves the HTTP API
// until ctx is cancelled or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, configPath string) error {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	ctx = zerowrap.WithCtx(ctx, log)

	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return log.WrapErr(err, "failed to initialize server")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to release resources")
		}
	}()

	return srv.serve(ctx)
}

// initLogger initializes the zerowrap logger.
func initLogger(cfg Config) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		logPath := cfg.Logging.File.Path
		if logPath == "" {
			logPath = filepath.Join(cfg.Server.DataDir, "logs", "toolshed.log")
		}

		log, cleanup, err := zerowrap.NewWithFile(logConfig, zerowrap.FileConfig{
			Enabled:    true,
			Path:       logPath,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAge:     cfg.Logging.File.MaxAge,
			Compress:   true,
		})
		if err != nil {
			return zerowrap.Default(), nil, fmt.Errorf("failed to create logger with file: %w", err)
		}
		return log, cleanup, nil
	}

	return zerowrap.New(logConfig), nil, nil
}

// server owns every long-lived component of a running instance.
type server struct {
	cfg        Config
	handler    http.Handler
	collection *tools.Collection
	store      out.ToolStore
	bus        *eventbus.InMemory
	telemetry  *telemetry.Provider
	resources  closers
	log        zerowrap.Logger
}

// newServer wires storage, the tool collection and the HTTP stack. On error
// everything acquired so far is released.
func newServer(ctx context.Context, cfg Config, log zerowrap.Logger) (_ *server, err error) {
	s := &server{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			if cerr := s.Close(context.Background()); cerr != nil {
				log.Warn().Err(cerr).Msg("failed to release resources after startup error")
			}
		}
	}()

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s.telemetry, err = telemetry.NewProvider(ctx, cfg.Telemetry, serviceName, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	bus := eventbus.NewInMemory(100, log)
	bus.SetMetrics(metrics)
	if err := bus.Subscribe(telemetry.NewRecorder(metrics)); err != nil {
		return nil, err
	}
	if err := bus.Start(); err != nil {
		return nil, err
	}
	// Only a started bus can be stopped.
	s.bus = bus

	storageClient, configs, backends, err := createStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.resources = append(s.resources, backends...)

	s.store, err = createToolStore(cfg, log)
	if err != nil {
		return nil, err
	}
	s.resources.add(s.store)

	if err := seedTools(ctx, s.store, cfg.Tools.Seed, log); err != nil {
		return nil, err
	}

	s.collection = tools.NewCollection(s.store, storageClient, configs, s.bus, tools.Config{
		MaxUpdateRetries: cfg.Tools.MaxUpdateRetries,
	})
	namespaces := acl.NewService(configs, storageClient)

	authSvc, err := createAuthService(cfg)
	if err != nil {
		return nil, err
	}

	trustedNets, invalid := middleware.ParseTrustedProxies(cfg.API.RateLimit.TrustedProxies)
	for _, entry := range invalid {
		log.Warn().Str("entry", entry).Msg("ignoring invalid trusted proxy")
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.PanicRecovery(log),
		middleware.RequestLogger(log, trustedNets),
		middleware.SecurityHeaders,
	}
	if cfg.API.RateLimit.Enabled {
		limit, err := s.createRateLimit(cfg, trustedNets)
		if err != nil {
			return nil, err
		}
		middlewares = append(middlewares, limit)
	}
	middlewares = append(middlewares, middleware.Authenticate(authSvc, log))

	mux := http.NewServeMux()
	var toolOpts []toolshttp.Option
	if cfg.Server.MaxUploadSize > 0 {
		toolOpts = append(toolOpts, toolshttp.WithMaxUploadSize(cfg.Server.MaxUploadSize))
	}
	toolshttp.NewHandler(s.collection, log, toolOpts...).RegisterRoutes(mux)
	storagehttp.NewHandler(namespaces, log).RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httputil.SendJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": version})
	})

	s.handler = otelhttp.NewHandler(middleware.Chain(middlewares...)(mux), serviceName)

	return s, nil
}

func createAuthService(cfg Config) (*auth.Service, error) {
	claims := make([]domain.Claim, 0, len(cfg.Auth.AnonymousClaims))
	for _, raw := range cfg.Auth.AnonymousClaims {
		claim, err := domain.ParseClaim(raw)
		if err != nil {
			return nil, fmt.Errorf("auth.anonymous_claims: %w", err)
		}
		claims = append(claims, claim)
	}
	return auth.NewService(auth.Config{
		Enabled:         cfg.Auth.Enabled,
		TokenSecret:     []byte(cfg.Auth.TokenSecret),
		Issuer:          cfg.Auth.Issuer,
		AnonymousClaims: claims,
	}), nil
}

func (s *server) createRateLimit(cfg Config, trustedNets []*net.IPNet) (func(http.Handler) http.Handler, error) {
	rl := cfg.API.RateLimit
	global, err := ratelimit.NewStore(ratelimit.Config{Backend: rl.Backend, RPS: rl.GlobalRPS, Burst: rl.Burst, RedisURL: rl.RedisURL}, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create global rate limiter: %w", err)
	}
	s.trackCloser(global)

	perIP, err := ratelimit.NewStore(ratelimit.Config{Backend: rl.Backend, RPS: rl.PerIPRPS, Burst: rl.Burst, RedisURL: rl.RedisURL}, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create per-IP rate limiter: %w", err)
	}
	s.trackCloser(perIP)

	return middleware.RateLimit(global, perIP, trustedNets, s.log), nil
}

func (s *server) trackCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		s.resources.add(c)
	}
}

// serve listens until ctx is cancelled or a shutdown signal arrives, then
// drains in-flight requests.
func (s *server) serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().
			Str(zerowrap.FieldLayer, "app").
			Str("addr", s.cfg.Server.Addr).
			Str("version", version).
			Msg("toolshed API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return s.log.WrapErr(err, "HTTP server failed")
		}
		return nil
	case <-ctx.Done():
		s.log.Info().Str(zerowrap.FieldLayer, "app").Msg("context cancelled, shutting down")
	case sig := <-quit:
		s.log.Info().Str(zerowrap.FieldLayer, "app").Str("signal", sig.String()).Msg("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	return nil
}

// Close stops the event bus, flushes telemetry and closes every store.
func (s *server) Close(ctx context.Context) error {
	var errs []error
	if s.bus != nil {
		if err := s.bus.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.resources.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
