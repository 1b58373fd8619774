package admin

import (
	"log/slog"
	"sync"
	"time"
)

const recentWindow = 1000 // matches performance_monitor's request_times deque size

// modelStats accumulates per-model counters, ported from
// proxy_server.py's PerformanceMonitor.model_performance entries.
type modelStats struct {
	count  int64
	errors int64
	total  time.Duration
}

// performanceMonitor tracks recent request latencies and per-model error
// rates for the health-check alerts below.
type performanceMonitor struct {
	mu     sync.Mutex
	recent []time.Duration // ring of up to recentWindow most recent durations
	models map[string]*modelStats
}

func newPerformanceMonitor() *performanceMonitor {
	return &performanceMonitor{models: make(map[string]*modelStats)}
}

func (p *performanceMonitor) record(model string, duration time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recent = append(p.recent, duration)
	if len(p.recent) > recentWindow {
		p.recent = p.recent[len(p.recent)-recentWindow:]
	}

	stats, ok := p.models[model]
	if !ok {
		stats = &modelStats{}
		p.models[model] = stats
	}
	stats.count++
	stats.total += duration
	if !success {
		stats.errors++
	}
}

// snapshot is the percentile/error-rate summary the monitoring alerts
// check against thresholds.
type snapshot struct {
	p95        time.Duration
	errorRate  float64
	sampleSize int
}

func (p *performanceMonitor) snapshotStats() snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.recent) == 0 {
		return snapshot{}
	}

	sorted := append([]time.Duration(nil), p.recent...)
	sortDurations(sorted)
	p95 := sorted[int(float64(len(sorted))*0.95)]

	var totalCount, totalErrors int64
	for _, s := range p.models {
		totalCount += s.count
		totalErrors += s.errors
	}
	errorRate := 0.0
	if totalCount > 0 {
		errorRate = float64(totalErrors) / float64(totalCount)
	}

	return snapshot{p95: p95, errorRate: errorRate, sampleSize: len(sorted)}
}

func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1] > d[j]; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}

// alertThresholds mirrors MonitoringAlerts.alert_thresholds: tuning
// constants, not part of any wire contract, so they stay unexported.
const (
	thresholdErrorRate        = 0.10
	thresholdP95ResponseTime  = 30 * time.Second
	thresholdActiveRequests   = 50
	thresholdDisconnectPeriod = 5 * time.Minute
)

// checkHealth evaluates the current snapshot plus live counts against the
// fixed thresholds above and logs one warning per breach, mirroring
// MonitoringAlerts.check_system_health's alert list.
func checkHealth(log *slog.Logger, stats snapshot, activeRequests int, peerConnected bool, disconnectedSince time.Time) {
	if stats.sampleSize > 0 && stats.errorRate > thresholdErrorRate {
		log.Warn("admin alert: high error rate",
			slog.Float64("error_rate", stats.errorRate),
			slog.Float64("threshold", thresholdErrorRate))
	}
	if stats.p95 > thresholdP95ResponseTime {
		log.Warn("admin alert: slow p95 response time",
			slog.Duration("p95", stats.p95),
			slog.Duration("threshold", thresholdP95ResponseTime))
	}
	if activeRequests > thresholdActiveRequests {
		log.Warn("admin alert: high number of active requests",
			slog.Int("active_requests", activeRequests),
			slog.Int("threshold", thresholdActiveRequests))
	}
	if !peerConnected && !disconnectedSince.IsZero() {
		if since := time.Since(disconnectedSince); since > thresholdDisconnectPeriod {
			log.Warn("admin alert: browser peer disconnected too long",
				slog.Duration("disconnected_for", since),
				slog.Duration("threshold", thresholdDisconnectPeriod))
		}
	}
}
