package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusProvider exposes OTel instruments on a private Prometheus registry.
type PrometheusProvider struct {
	Meter    metric.Meter
	Handler  http.Handler
	provider *sdkmetric.MeterProvider
}

// NewPrometheusProvider creates a meter whose instruments are served by Handler
// in the Prometheus exposition format.
func NewPrometheusProvider() (*PrometheusProvider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return &PrometheusProvider{
		Meter:    mp.Meter(instrumentationName),
		Handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		provider: mp,
	}, nil
}

// Shutdown stops the underlying meter provider.
func (p *PrometheusProvider) Shutdown(ctx context.Context) error {
	if err := p.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown prometheus provider: %w", err)
	}

	return nil
}
