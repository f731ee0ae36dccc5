// Package telemetry provides OpenTelemetry initialization for toolshed.
// It configures trace and metric providers that export via OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled         bool    `mapstructure:"enabled"`
	Endpoint        string  `mapstructure:"endpoint"`          // OTLP HTTP endpoint, e.g. "http://localhost:4318"
	AuthToken       string  `mapstructure:"auth_token"`        // Basic auth token (base64 encoded user:pass)
	Traces          bool    `mapstructure:"traces"`            // Enable trace export
	Metrics         bool    `mapstructure:"metrics"`           // Enable metric export
	TraceSampleRate float64 `mapstructure:"trace_sample_rate"` // 0.0-1.0
}

// Provider holds the initialized OTel providers. Fields are nil when the
// corresponding signal is disabled.
type Provider struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider

	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops every initialized provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// endpoint holds the parsed OTLP endpoint shared by both exporters.
type endpoint struct {
	host     string
	basePath string
	insecure bool
	headers  map[string]string
}

func (e endpoint) path(signal string) string {
	return e.basePath + "/v1/" + signal
}

// NewProvider creates OTel providers from cfg and installs them globally.
// A disabled configuration yields an empty provider whose Shutdown is a no-op.
func NewProvider(ctx context.Context, cfg Config, serviceName, version string) (*Provider, error) {
	p := &Provider{}
	if !cfg.Enabled || cfg.Endpoint == "" {
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	ep, err := parseEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Traces {
		if err := p.setupTracing(ctx, ep, cfg.TraceSampleRate, res); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics {
		if err := p.setupMetrics(ctx, ep, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}

	return p, nil
}

func parseEndpoint(cfg Config) (endpoint, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return endpoint{}, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("endpoint %q has no host", cfg.Endpoint)
	}

	headers := make(map[string]string)
	if cfg.AuthToken != "" {
		headers["Authorization"] = "Basic " + cfg.AuthToken
	}

	return endpoint{
		host:     u.Host,
		basePath: strings.TrimSuffix(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  headers,
	}, nil
}

// sampler maps a rate to a sampler: 0 never samples, (0,1) is ratio-based,
// anything else always samples.
func sampler(rate float64) trace.Sampler {
	switch {
	case rate <= 0:
		return trace.NeverSample()
	case rate < 1:
		return trace.ParentBased(trace.TraceIDRatioBased(rate))
	default:
		return trace.AlwaysSample()
	}
}

func (p *Provider) setupTracing(ctx context.Context, ep endpoint, rate float64, res *resource.Resource) error {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(ep.host),
		otlptracehttp.WithHeaders(ep.headers),
		otlptracehttp.WithURLPath(ep.path("traces")),
	}
	if ep.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
		trace.WithSampler(sampler(rate)),
	)
	otel.SetTracerProvider(tp)
	p.TracerProvider = tp
	p.shutdowns = append(p.shutdowns, tp.Shutdown)
	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, ep endpoint, res *resource.Resource) error {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithHeaders(ep.headers),
		otlpmetrichttp.WithURLPath(ep.path("metrics")),
	}
	if ep.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exp)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	p.MeterProvider = mp
	p.shutdowns = append(p.shutdowns, mp.Shutdown)
	return nil
}
