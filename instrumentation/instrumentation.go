package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "galaxy-mcp"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	instrumentationPrefix = "github.com/galaxyproject/galaxy-mcp/"
)

// Config holds instrumentation configuration
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled controls whether the SDK providers are installed.
	// When false, no-op providers are used.
	Enabled bool

	// LogClientIPs controls whether client addresses are added to spans.
	LogClientIPs bool

	// SpanProcessors receive every finished span (exporters, tracetest.SpanRecorder).
	SpanProcessors []sdktrace.SpanProcessor

	// MetricReaders collect metrics (periodic exporters, sdkmetric.ManualReader).
	MetricReaders []sdkmetric.Reader

	// Resource overrides the default service resource.
	Resource *resource.Resource
}

// Instrumentation owns the tracer and meter providers and the metric instruments.
type Instrumentation struct {
	config Config

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	inst := &Instrumentation{config: config}

	if config.Enabled {
		res := config.Resource
		if res == nil {
			var err error
			res, err = resource.New(
				context.Background(),
				resource.WithAttributes(
					semconv.ServiceName(config.ServiceName),
					semconv.ServiceVersion(config.ServiceVersion),
				),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create resource: %w", err)
			}
		}
		inst.initializeProviders(res)
	} else {
		inst.meterProvider = metricnoop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

func (i *Instrumentation) initializeProviders(res *resource.Resource) {
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, sp := range i.config.SpanProcessors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range i.config.MetricReaders {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	i.tracerProvider = tp
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown, mp.Shutdown)
}

// Shutdown flushes and stops the providers. Only the first call has an effect.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Meter returns a named meter for the given scope ("http", "server", "storage", "galaxy", "tools").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs reports whether client addresses may be attached to spans.
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers gauges for pending transactions and
// registered clients. Either callback may be nil.
func (i *Instrumentation) RegisterStorageSizeCallbacks(transactions, clients StorageSizeCallback) error {
	meter := i.Meter("storage")

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if transactions != nil {
				observer.ObserveInt64(i.metrics.StorageTransactionsCount, transactions())
			}
			if clients != nil {
				observer.ObserveInt64(i.metrics.StorageClientsCount, clients())
			}
			return nil
		},
		i.metrics.StorageTransactionsCount,
		i.metrics.StorageClientsCount,
	)
	return err
}
