package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"

	"github.com/temcen/fusionrec/internal/messaging"
	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/pkg/models"
)

// JobSubmitter queues an index build in the background.
type JobSubmitter interface {
	Submit(ctx context.Context, kind models.IndexKind, trigger string) (*models.JobProgress, error)
}

// JobRunner runs an index build to completion.
type JobRunner interface {
	Rebuild(ctx context.Context, kind models.IndexKind, trigger string) (*models.BuildResult, error)
}

// RebuildScheduler submits a rebuild of one index kind on a fixed interval.
type RebuildScheduler struct {
	jobs     JobSubmitter
	kind     models.IndexKind
	interval time.Duration
	onStart  bool
	logger   *logrus.Logger
}

func NewRebuildScheduler(jobs JobSubmitter, kind models.IndexKind, interval time.Duration, onStart bool, logger *logrus.Logger) *RebuildScheduler {
	return &RebuildScheduler{
		jobs:     jobs,
		kind:     kind,
		interval: interval,
		onStart:  onStart,
		logger:   logger,
	}
}

func (s *RebuildScheduler) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.WithField("kind", s.kind).Info("Scheduled rebuilds disabled")
		return suture.ErrDoNotRestart
	}

	s.logger.WithFields(logrus.Fields{
		"kind":     s.kind,
		"interval": s.interval,
		"on_start": s.onStart,
	}).Info("Rebuild scheduler starting")

	if s.onStart {
		s.submit(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.submit(ctx)
		}
	}
}

func (s *RebuildScheduler) submit(ctx context.Context) {
	job, err := s.jobs.Submit(ctx, s.kind, "schedule")
	switch {
	case errors.Is(err, services.ErrBuildInProgress):
		s.logger.WithField("kind", s.kind).Debug("Skipping scheduled rebuild, previous build still running")
	case err != nil:
		s.logger.WithError(err).WithField("kind", s.kind).Warn("Failed to submit scheduled rebuild")
	default:
		s.logger.WithFields(logrus.Fields{
			"kind":   s.kind,
			"job_id": job.JobID,
		}).Debug("Scheduled rebuild submitted")
	}
}

func (s *RebuildScheduler) String() string {
	return fmt.Sprintf("rebuild-scheduler-%s", s.kind)
}

// CommandConsumer is the transport side of rebuild commands.
type CommandConsumer interface {
	ConsumeRebuildRequests(ctx context.Context, handler messaging.RebuildHandler) error
}

// RebuildConsumer runs each rebuild command synchronously so a failed build
// is retried by the consumer and eventually dead-lettered.
type RebuildConsumer struct {
	consumer CommandConsumer
	jobs     JobRunner
	logger   *logrus.Logger
}

func NewRebuildConsumer(consumer CommandConsumer, jobs JobRunner, logger *logrus.Logger) *RebuildConsumer {
	return &RebuildConsumer{
		consumer: consumer,
		jobs:     jobs,
		logger:   logger,
	}
}

func (c *RebuildConsumer) Serve(ctx context.Context) error {
	c.logger.Info("Rebuild command consumer starting")
	return c.consumer.ConsumeRebuildRequests(ctx, c.Handle)
}

// Handle runs one command. A build of the same kind that is already running
// satisfies the command.
func (c *RebuildConsumer) Handle(ctx context.Context, cmd models.RebuildCommand) error {
	result, err := c.jobs.Rebuild(ctx, cmd.Kind, "kafka")
	if errors.Is(err, services.ErrBuildInProgress) {
		c.logger.WithField("kind", cmd.Kind).Info("Rebuild already in progress, command satisfied")
		return nil
	}
	if services.IsValidationError(err) {
		return fmt.Errorf("%w: %v", messaging.ErrInvalidCommand, err)
	}
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"kind":         cmd.Kind,
		"requested_by": cmd.RequestedBy,
		"generation":   result.GenerationID,
	}).Info("Rebuild command completed")
	return nil
}

func (c *RebuildConsumer) String() string {
	return "rebuild-consumer"
}

// HTTPServer is the subset of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}

// MetricsSampler runs the health service's periodic process and pool sampling.
type MetricsSampler struct {
	health   *services.HealthService
	interval time.Duration
}

func NewMetricsSampler(health *services.HealthService, interval time.Duration) *MetricsSampler {
	return &MetricsSampler{health: health, interval: interval}
}

func (m *MetricsSampler) Serve(ctx context.Context) error {
	m.health.CollectMetrics(ctx, m.interval)
	return ctx.Err()
}

func (m *MetricsSampler) String() string {
	return "metrics-sampler"
}
