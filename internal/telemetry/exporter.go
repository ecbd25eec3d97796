// Package telemetry exports focus session metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "focusforge"
	serviceVersion = "1.0.0"
)

// Config holds OTLP exporter settings.
type Config struct {
	Endpoint string
	Enabled  bool
	Insecure bool
	Interval time.Duration
}

// Recorder records focus session metrics on a meter.
type Recorder struct {
	sessionsTotal  metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
	alertsTotal    metric.Int64Counter
	framesTotal    metric.Int64Counter
	durationHist   metric.Float64Histogram
	incidentsHist  metric.Int64Histogram
}

// NewRecorder creates the session instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	sessionsTotal, err := meter.Int64Counter(
		"focusforge_sessions_total",
		metric.WithDescription("Total number of focus sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}

	activeSessions, err := meter.Int64UpDownCounter(
		"focusforge_sessions_active",
		metric.WithDescription("Focus sessions currently running"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active sessions counter: %w", err)
	}

	alertsTotal, err := meter.Int64Counter(
		"focusforge_drowsiness_alerts_total",
		metric.WithDescription("Total drowsiness alerts raised"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating alerts counter: %w", err)
	}

	framesTotal, err := meter.Int64Counter(
		"focusforge_frames_analyzed_total",
		metric.WithDescription("Total camera frames analyzed"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"focusforge_session_duration_seconds",
		metric.WithDescription("Focus session duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	incidentsHist, err := meter.Int64Histogram(
		"focusforge_session_sleep_incidents",
		metric.WithDescription("Sleep incidents per focus session"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating incidents histogram: %w", err)
	}

	return &Recorder{
		sessionsTotal:  sessionsTotal,
		activeSessions: activeSessions,
		alertsTotal:    alertsTotal,
		framesTotal:    framesTotal,
		durationHist:   durationHist,
		incidentsHist:  incidentsHist,
	}, nil
}

// SessionStarted counts a new session.
func (r *Recorder) SessionStarted(string) {
	ctx := context.Background()
	r.sessionsTotal.Add(ctx, 1)
	r.activeSessions.Add(ctx, 1)
}

// FrameAnalyzed counts an analyzed frame.
func (r *Recorder) FrameAnalyzed(degenerate bool) {
	r.framesTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("degenerate", degenerate)))
}

// AlertRaised counts a drowsiness alert.
func (r *Recorder) AlertRaised(string) {
	r.alertsTotal.Add(context.Background(), 1)
}

// SessionEnded records the duration and incident count of a finished session.
func (r *Recorder) SessionEnded(_ string, duration time.Duration, incidents int) {
	ctx := context.Background()
	r.activeSessions.Add(ctx, -1)
	r.durationHist.Record(ctx, duration.Seconds())
	r.incidentsHist.Record(ctx, int64(incidents))
}

// Exporter pushes session metrics to an OTEL collector.
type Exporter struct {
	*Recorder
	provider *sdkmetric.MeterProvider
}

// NewExporter creates an OTLP/gRPC metrics exporter.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	rec, err := NewRecorder(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	return &Exporter{Recorder: rec, provider: provider}, nil
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
