package config

import (
	"github.com/marmos91/dittocore/pkg/metrics"
	promMetrics "github.com/marmos91/dittocore/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Cache is the sector cache collector (never nil, uses noop if disabled)
	Cache metrics.CacheMetrics

	// Frame is the frame cache and fault collector (never nil)
	Frame metrics.FrameMetrics

	// Swap is the swap store collector (never nil)
	Swap metrics.SwapMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, serving stats at /stats when given
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Call it once per process: Prometheus collectors register globally.
func InitializeMetrics(cfg *Config, stats func() any) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Cache: metrics.NewNoopCacheMetrics(),
			Frame: metrics.NewNoopFrameMetrics(),
			Swap:  metrics.NewNoopSwapMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:  cfg.Server.Metrics.Port,
		Stats: stats,
	})

	return &MetricsResult{
		Server: server,
		Cache:  promMetrics.NewCacheMetrics(),
		Frame:  promMetrics.NewFrameMetrics(),
		Swap:   promMetrics.NewSwapMetrics(),
	}
}
