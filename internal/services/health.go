package services

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/database"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/internal/metrics"
	"github.com/temcen/fusionrec/pkg/models"
)

type HealthCheck func(ctx context.Context) error

type HealthService struct {
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck
	db          *database.Database
	logger      *logrus.Logger
	timeout     time.Duration
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
	Latency     time.Duration     `json:"latency,omitempty"`
}

// NewHealthService checks PostgreSQL and the cache Redis as critical
// dependencies. The index Redis and the presence of a popularity generation
// are non-critical.
func NewHealthService(cfg *config.Config, logger *logrus.Logger, db *database.Database, indexes index.Reader) *HealthService {
	critical := map[string]HealthCheck{}
	nonCritical := map[string]HealthCheck{
		"index_generations": func(ctx context.Context) error {
			generations, err := indexes.ActiveGenerations(ctx)
			if err != nil {
				return err
			}
			if generations[models.IndexKindPopularity] == 0 {
				return fmt.Errorf("no active popularity generation")
			}
			return nil
		},
	}

	if db != nil {
		critical["postgresql"] = func(ctx context.Context) error { return db.PG.Ping(ctx) }
		critical["redis_cache"] = func(ctx context.Context) error { return db.Redis.Cache.Ping(ctx).Err() }
		if cfg.Index.Backend == "redis" {
			nonCritical["redis_index"] = func(ctx context.Context) error { return db.Redis.Index.Ping(ctx).Err() }
		}
	}

	hs := NewHealthServiceWithChecks(critical, nonCritical, logger)
	hs.db = db
	return hs
}

func NewHealthServiceWithChecks(critical, nonCritical map[string]HealthCheck, logger *logrus.Logger) *HealthService {
	return &HealthService{
		critical:    critical,
		nonCritical: nonCritical,
		logger:      logger,
		timeout:     5 * time.Second,
	}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string),
	}

	allCriticalHealthy := true
	for _, name := range sortedChecks(s.critical) {
		if err := s.run(ctx, s.critical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	for _, name := range sortedChecks(s.nonCritical) {
		if err := s.run(ctx, s.nonCritical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	status.Latency = time.Since(start)

	return status
}

func (s *HealthService) run(ctx context.Context, check HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return check(ctx)
}

func sortedChecks(checks map[string]HealthCheck) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectMetrics samples process and connection pool statistics until ctx
// is done.
func (s *HealthService) CollectMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var memStats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runtime.ReadMemStats(&memStats)
		metrics.SystemInfo.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		metrics.SystemInfo.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
		metrics.SystemInfo.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
		metrics.SystemInfo.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))

		if s.db != nil && s.db.PG != nil {
			stats := s.db.PG.Stat()
			metrics.DBPoolConnections.WithLabelValues("acquired_conns").Set(float64(stats.AcquiredConns()))
			metrics.DBPoolConnections.WithLabelValues("idle_conns").Set(float64(stats.IdleConns()))
			metrics.DBPoolConnections.WithLabelValues("total_conns").Set(float64(stats.TotalConns()))
			metrics.DBPoolConnections.WithLabelValues("max_conns").Set(float64(stats.MaxConns()))
		}
	}
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		metrics.HealthStatus.WithLabelValues(serviceName).Set(1)
	} else {
		metrics.HealthStatus.WithLabelValues(serviceName).Set(0)
	}
	metrics.HealthCheckTimestamp.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
