// Package metrics holds the prometheus collectors of one index engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a per-engine set of collectors. Several engines can live in
// one process as long as each registers on its own Registerer.
type Metrics struct {
	FilesParsed      prometheus.Counter
	CacheHits        prometheus.Counter
	ParseErrors      prometheus.Counter
	CacheCorrupt     prometheus.Counter
	BuildDuration    *prometheus.HistogramVec
	RenderIterations prometheus.Histogram
	IndexedFiles     prometheus.Gauge
	IndexedSymbols   prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesParsed: f.NewCounter(prometheus.CounterOpts{
			Name: "codeindex_files_parsed_total",
			Help: "Files parsed with tree-sitter (cache misses).",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "codeindex_cache_hits_total",
			Help: "Files whose tags were served from the fingerprint cache.",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "codeindex_parse_errors_total",
			Help: "Files that parsed with syntax errors and kept partial tags.",
		}),
		CacheCorrupt: f.NewCounter(prometheus.CounterOpts{
			Name: "codeindex_cache_corrupt_total",
			Help: "Cache entries that failed to decode and were evicted.",
		}),
		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeindex_build_duration_seconds",
			Help:    "Wall time of index builds and updates.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"op"}),
		RenderIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "codeindex_render_iterations",
			Help:    "Binary search probes per rendered map.",
			Buckets: prometheus.LinearBuckets(1, 2, 8),
		}),
		IndexedFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "codeindex_indexed_files",
			Help: "Files in the current index snapshot.",
		}),
		IndexedSymbols: f.NewGauge(prometheus.GaugeOpts{
			Name: "codeindex_indexed_symbols",
			Help: "Definition tags in the current index snapshot.",
		}),
	}
}
