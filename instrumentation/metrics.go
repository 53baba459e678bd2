package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments. Record methods are safe on a nil *Metrics.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow
	AuthorizationStarted metric.Int64Counter
	LoginAttempts        metric.Int64Counter
	CodeIssued           metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	GrantRejected        metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Security
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTransactionsCount metric.Int64ObservableGauge
	StorageClientsCount      metric.Int64ObservableGauge

	// Galaxy API
	GalaxyAPICallsTotal metric.Int64Counter
	GalaxyAPIDuration   metric.Float64Histogram
	GalaxyAPIErrors     metric.Int64Counter

	// MCP tools
	ToolCallsTotal metric.Int64Counter
}

type instrumentBuilder struct {
	err error
}

func (b *instrumentBuilder) counter(m metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) histogram(m metric.Meter, name, desc string) metric.Float64Histogram {
	h, err := m.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

func (b *instrumentBuilder) gauge(m metric.Meter, name, desc, unit string) metric.Int64ObservableGauge {
	g, err := m.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s gauge: %w", name, err)
	}
	return g
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	var b instrumentBuilder

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	galaxyMeter := inst.Meter("galaxy")
	toolsMeter := inst.Meter("tools")

	m := &Metrics{
		HTTPRequestsTotal:   b.counter(httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"),
		HTTPRequestDuration: b.histogram(httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds"),

		AuthorizationStarted: b.counter(serverMeter, "oauth.authorization.started", "Number of authorization transactions started", "{transaction}"),
		LoginAttempts:        b.counter(serverMeter, "oauth.login.attempts", "Number of Galaxy login form submissions", "{attempt}"),
		CodeIssued:           b.counter(serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"),
		CodeExchanged:        b.counter(serverMeter, "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"),
		TokenRefreshed:       b.counter(serverMeter, "oauth.token.refreshed", "Number of refresh token exchanges", "{refresh}"),
		TokenRevoked:         b.counter(serverMeter, "oauth.token.revoked", "Number of revocation requests", "{revocation}"),
		GrantRejected:        b.counter(serverMeter, "oauth.grant.rejected", "Number of rejected token grants", "{grant}"),
		ClientRegistered:     b.counter(serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"),

		RateLimitExceeded:    b.counter(securityMeter, "oauth.security.rate_limit_exceeded", "Number of requests rejected by rate limiting", "{request}"),
		PKCEValidationFailed: b.counter(securityMeter, "oauth.security.pkce_validation_failed", "Number of failed PKCE verifications", "{failure}"),

		StorageOperationTotal:    b.counter(storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"),
		StorageOperationDuration: b.histogram(storageMeter, "storage.operation.duration", "Storage operation duration in milliseconds"),
		StorageTransactionsCount: b.gauge(storageMeter, "storage.transactions.count", "Number of pending authorization transactions", "{transaction}"),
		StorageClientsCount:      b.gauge(storageMeter, "storage.clients.count", "Number of registered clients", "{client}"),

		GalaxyAPICallsTotal: b.counter(galaxyMeter, "galaxy.api.calls.total", "Total number of Galaxy API calls", "{call}"),
		GalaxyAPIDuration:   b.histogram(galaxyMeter, "galaxy.api.duration", "Galaxy API call duration in milliseconds"),
		GalaxyAPIErrors:     b.counter(galaxyMeter, "galaxy.api.errors", "Number of failed Galaxy API calls", "{error}"),

		ToolCallsTotal: b.counter(toolsMeter, "mcp.tool.calls.total", "Total number of MCP tool calls", "{call}"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records a new authorization transaction
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordLoginAttempt records a login form submission; result is "success" or a failure reason.
func (m *Metrics) RecordLoginAttempt(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCodeIssued records an authorization code minted after login
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenRefresh records a refresh token exchange
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenRevocation records a revocation request
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordGrantRejected records a rejected code or refresh exchange
func (m *Metrics) RecordGrantRejected(ctx context.Context, grantType, reason string) {
	if m == nil {
		return
	}
	m.GrantRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("reason", reason),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	if m == nil {
		return
	}
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(attribute.String("client_type", clientType)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiter string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter", limiter)))
}

// RecordPKCEValidationFailed records a PKCE failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordGalaxyAPICall records a call to the Galaxy REST API
func (m *Metrics) RecordGalaxyAPICall(ctx context.Context, operation string, statusCode int, durationMs float64, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	}
	m.GalaxyAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.GalaxyAPIDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
	if err != nil {
		m.GalaxyAPIErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordToolCall records an MCP tool invocation
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	))
}
