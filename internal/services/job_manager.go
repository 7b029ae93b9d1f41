package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/metrics"
	"github.com/temcen/fusionrec/pkg/models"
)

var ErrBuildInProgress = errors.New("index build already in progress")

// IndexBuilder produces and publishes one generation of an index.
type IndexBuilder interface {
	Build(ctx context.Context) (*models.BuildResult, error)
}

// GenerationEventPublisher announces freshly activated generations.
type GenerationEventPublisher interface {
	PublishGenerationBuilt(ctx context.Context, event *models.GenerationBuiltEvent) error
}

// JobManager runs index rebuilds as tracked jobs. Builds of the same kind
// never overlap; a failed build leaves the active generation in place.
type JobManager struct {
	builders map[models.IndexKind]IndexBuilder
	records  JobStore
	archive  JobStore
	events   GenerationEventPublisher
	config   config.JobsConfig
	logger   *logrus.Logger

	locks map[models.IndexKind]*sync.Mutex
	wg    sync.WaitGroup
	now   func() time.Time
}

// NewJobManager takes the primary job record store; archive and events may
// be nil.
func NewJobManager(
	builders map[models.IndexKind]IndexBuilder,
	records JobStore,
	archive JobStore,
	events GenerationEventPublisher,
	cfg config.JobsConfig,
	logger *logrus.Logger,
) *JobManager {
	locks := make(map[models.IndexKind]*sync.Mutex, len(builders))
	for kind := range builders {
		locks[kind] = &sync.Mutex{}
	}
	return &JobManager{
		builders: builders,
		records:  records,
		archive:  archive,
		events:   events,
		config:   cfg,
		logger:   logger,
		locks:    locks,
		now:      time.Now,
	}
}

func (jm *JobManager) RebuildCFIndex(ctx context.Context) (*models.BuildResult, error) {
	return jm.Rebuild(ctx, models.IndexKindCF, "api")
}

func (jm *JobManager) RebuildContentIndex(ctx context.Context) (*models.BuildResult, error) {
	return jm.Rebuild(ctx, models.IndexKindContent, "api")
}

func (jm *JobManager) RefreshPopularity(ctx context.Context) (*models.BuildResult, error) {
	return jm.Rebuild(ctx, models.IndexKindPopularity, "api")
}

// Rebuild runs a build synchronously and returns its result.
func (jm *JobManager) Rebuild(ctx context.Context, kind models.IndexKind, trigger string) (*models.BuildResult, error) {
	lock, err := jm.acquire(kind, trigger)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	job, err := jm.CreateJob(ctx, kind, trigger)
	if err != nil {
		return nil, err
	}
	return jm.run(ctx, job)
}

// Submit queues a build in the background and returns the queued job. It
// returns ErrBuildInProgress without recording a job when a build of the
// same kind is still running.
func (jm *JobManager) Submit(ctx context.Context, kind models.IndexKind, trigger string) (*models.JobProgress, error) {
	lock, err := jm.acquire(kind, trigger)
	if err != nil {
		return nil, err
	}

	job, err := jm.CreateJob(ctx, kind, trigger)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	queued := *job
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer lock.Unlock()
		if _, err := jm.run(context.Background(), job); err != nil {
			jm.logger.WithError(err).WithFields(logrus.Fields{
				"job_id": job.JobID,
				"kind":   kind,
			}).Warn("Background index build failed")
		}
	}()
	return &queued, nil
}

// acquire takes the per-kind build lock without blocking.
func (jm *JobManager) acquire(kind models.IndexKind, trigger string) (*sync.Mutex, error) {
	lock, ok := jm.locks[kind]
	if !ok {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown index kind %q", kind)}
	}
	if !lock.TryLock() {
		metrics.IndexBuilds.WithLabelValues(string(kind), "skipped").Inc()
		jm.logger.WithFields(logrus.Fields{
			"kind":    kind,
			"trigger": trigger,
		}).Info("Index build already in progress, request skipped")
		return nil, ErrBuildInProgress
	}
	return lock, nil
}

// Wait blocks until every submitted build has finished.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

func (jm *JobManager) CreateJob(ctx context.Context, kind models.IndexKind, trigger string) (*models.JobProgress, error) {
	if _, ok := jm.builders[kind]; !ok {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown index kind %q", kind)}
	}

	now := jm.now()
	job := &models.JobProgress{
		JobID:     uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusQueued,
		Trigger:   trigger,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := jm.records.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}
	jm.archiveJob(ctx, job)

	jm.logger.WithFields(logrus.Fields{
		"job_id":  job.JobID,
		"kind":    kind,
		"trigger": trigger,
	}).Info("Index job created")

	return job, nil
}

func (jm *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	job, err := jm.records.Get(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		jm.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to read job record")
	}
	if jm.archive == nil {
		return nil, err
	}

	job, err = jm.archive.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := jm.records.Save(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to restore job record")
	}
	return job, nil
}

// run executes a recorded job. The caller holds the kind's build lock.
func (jm *JobManager) run(ctx context.Context, job *models.JobProgress) (*models.BuildResult, error) {
	started := jm.now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &started
	job.UpdatedAt = started
	jm.save(ctx, job)

	buildCtx := ctx
	if jm.config.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, jm.config.BuildTimeout)
		defer cancel()
	}

	result, err := jm.builders[job.Kind].Build(buildCtx)
	metrics.IndexBuildDuration.WithLabelValues(string(job.Kind)).Observe(jm.now().Sub(started).Seconds())
	jm.finish(ctx, job, result, err)
	if err != nil {
		return nil, fmt.Errorf("%s index build failed: %w", job.Kind, err)
	}

	metrics.IndexRows.WithLabelValues(string(job.Kind)).Set(float64(result.Rows))
	metrics.ActiveGeneration.WithLabelValues(string(job.Kind)).Set(float64(result.GenerationID))
	jm.announce(ctx, job, result)

	return result, nil
}

func (jm *JobManager) finish(ctx context.Context, job *models.JobProgress, result *models.BuildResult, err error) {
	now := jm.now()
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.Result = result

	fields := logrus.Fields{"job_id": job.JobID, "kind": job.Kind}
	if err != nil {
		msg := err.Error()
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &msg
		metrics.IndexBuilds.WithLabelValues(string(job.Kind), models.JobStatusFailed).Inc()
		jm.logger.WithError(err).WithFields(fields).Error("Index job failed")
	} else {
		job.Status = models.JobStatusCompleted
		metrics.IndexBuilds.WithLabelValues(string(job.Kind), models.JobStatusCompleted).Inc()
		fields["generation"] = result.GenerationID
		fields["rows"] = result.Rows
		fields["duration"] = result.Duration
		jm.logger.WithFields(fields).Info("Index job completed")
	}
	jm.save(ctx, job)
}

func (jm *JobManager) announce(ctx context.Context, job *models.JobProgress, result *models.BuildResult) {
	if jm.events == nil {
		return
	}
	event := &models.GenerationBuiltEvent{
		EventID:      uuid.New(),
		JobID:        job.JobID,
		Kind:         job.Kind,
		GenerationID: result.GenerationID,
		Rows:         result.Rows,
		Items:        result.Items,
		DurationMs:   result.Duration.Milliseconds(),
		BuiltAt:      jm.now(),
		Result:       result,
	}
	if err := jm.events.PublishGenerationBuilt(ctx, event); err != nil {
		jm.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":     job.JobID,
			"kind":       job.Kind,
			"generation": result.GenerationID,
		}).Warn("Failed to publish generation event")
	}
}

func (jm *JobManager) save(ctx context.Context, job *models.JobProgress) {
	if err := jm.records.Save(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to update job record")
	}
	jm.archiveJob(ctx, job)
}

func (jm *JobManager) archiveJob(ctx context.Context, job *models.JobProgress) {
	if jm.archive == nil {
		return
	}
	if err := jm.archive.Save(ctx, job); err != nil {
		jm.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to archive job record")
	}
}
