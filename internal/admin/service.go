package admin

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arenabridge/bridge/internal/config"
	"github.com/arenabridge/bridge/internal/pool"
	"github.com/robfig/cron/v3"
)

type logJob struct {
	isError bool
	entry   map[string]interface{}
}

// Service is the bridge's admin/observability surface: ndjson request/error
// logging with rotation, a request-details ring buffer, Prometheus metrics,
// and a periodic health-alert check. Every write here is asynchronous and
// best-effort; a full log channel drops the entry rather than blocking the
// orchestrator.
type Service struct {
	log     *slog.Logger
	logs    *logManager
	ring    *requestRing
	perf    *performanceMonitor
	metrics *metrics
	pool    *pool.Pool

	peerConnected func() bool

	logChan  chan logJob
	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
	dropped  atomic.Int64

	mu                sync.Mutex
	disconnectedSince time.Time

	cron *cron.Cron
}

// NewService wires the admin surface from configuration. peerConnected is
// polled by the periodic health check to evaluate the
// websocket-disconnected-too-long alert.
func NewService(cfg *config.Config, log *slog.Logger, p *pool.Pool, peerConnected func() bool) (*Service, error) {
	logs, err := newLogManager(cfg.RequestLogDir, cfg.RequestLogMaxBytes, log)
	if err != nil {
		return nil, err
	}

	s := &Service{
		log:           log,
		logs:          logs,
		ring:          newRequestRing(cfg.RequestDetailsRingSize),
		perf:          newPerformanceMonitor(),
		metrics:       newMetrics(),
		pool:          p,
		peerConnected: peerConnected,
		logChan:       make(chan logJob, cfg.AdminLogChannelSize),
		shutdown:      make(chan struct{}),
	}

	for i := 0; i < cfg.AdminWorkerPoolSize; i++ {
		s.wg.Add(1)
		go s.logWorker()
	}

	s.cron = cron.New()
	s.cron.AddFunc("@every 30s", s.runHealthCheck)
	s.cron.AddFunc("@every 30s", s.refreshPoolGauges)
	s.cron.Start()

	return s, nil
}

func (s *Service) logWorker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.logChan:
			s.handleLogJob(job)
		case <-s.shutdown:
			for {
				select {
				case job := <-s.logChan:
					s.handleLogJob(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) handleLogJob(job logJob) {
	if job.isError {
		s.logs.writeErrorLog(job.entry)
	} else {
		s.logs.writeRequestLog(job.entry)
	}
}

func (s *Service) enqueue(job logJob) {
	if s.closed.Load() {
		return
	}
	select {
	case s.logChan <- job:
	default:
		dropped := s.dropped.Add(1)
		s.log.Warn("admin: log queue full, dropping entry", slog.Int64("total_dropped", dropped))
	}
}

// RecordRequest folds one completed HTTP request into the ring buffer, the
// performance monitor, the Prometheus metrics, and the async request log.
func (s *Service) RecordRequest(details RequestDetails, duration time.Duration, success bool) {
	s.ring.add(details)
	s.perf.record(details.Model, duration, success)

	status := "ok"
	if !success {
		status = "error"
	}
	s.metrics.observeRequest(details.Model, status, duration.Seconds())

	s.enqueue(logJob{entry: map[string]interface{}{
		"request_id":  details.RequestID,
		"method":      details.Method,
		"path":        details.Path,
		"model":       details.Model,
		"status":      details.Status,
		"duration_ms": details.DurationMS,
		"timestamp":   details.Timestamp,
	}})
}

// RecordError queues a structured error entry to the async error log.
func (s *Service) RecordError(requestID, kind, message string) {
	s.enqueue(logJob{isError: true, entry: map[string]interface{}{
		"request_id": requestID,
		"kind":       kind,
		"message":    message,
		"timestamp":  time.Now(),
	}})
}

// NotePeerDisconnected and NotePeerConnected track how long the browser
// peer has been absent, feeding the disconnect-duration alert.
func (s *Service) NotePeerDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnectedSince.IsZero() {
		s.disconnectedSince = time.Now()
	}
}

func (s *Service) NotePeerConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectedSince = time.Time{}
}

func (s *Service) runHealthCheck() {
	stats := s.perf.snapshotStats()

	s.mu.Lock()
	since := s.disconnectedSince
	s.mu.Unlock()

	active := 0
	for _, status := range s.pool.Status() {
		active += status.InUse
	}
	checkHealth(s.log, stats, active, s.peerConnected(), since)
}

func (s *Service) refreshPoolGauges() {
	for model, status := range s.pool.Status() {
		s.metrics.setPoolGauges(model, status.Available, status.InUse, status.Unhealthy)
	}
}

// Shutdown stops the cron scheduler and drains the log queue.
func (s *Service) Shutdown() {
	s.closed.Store(true)
	s.cron.Stop()
	close(s.shutdown)
	s.wg.Wait()
}
