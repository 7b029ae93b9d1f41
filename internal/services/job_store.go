package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/temcen/fusionrec/pkg/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists rebuild job records.
type JobStore interface {
	Save(ctx context.Context, job *models.JobProgress) error
	Get(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error)
}

// RedisJobStore keeps job records as JSON strings. Finished jobs expire
// after ttl; active jobs do not expire.
type RedisJobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisJobStore(client *redis.Client, prefix string, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisJobStore) key(jobID uuid.UUID) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, jobID.String())
}

func (s *RedisJobStore) Save(ctx context.Context, job *models.JobProgress) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ttl := time.Duration(0)
	if job.Finished() {
		ttl = s.ttl
	}
	if err := s.client.Set(ctx, s.key(job.JobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job in Redis: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	data, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job models.JobProgress
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// MemoryJobStore is used by the CLI and in tests.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]models.JobProgress
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]models.JobProgress)}
}

func (s *MemoryJobStore) Save(_ context.Context, job *models.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = *job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// DatabaseExecutor is the subset of pgxpool.Pool used for job archiving.
type DatabaseExecutor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresJobStore archives job records in the index_jobs table.
type PostgresJobStore struct {
	db DatabaseExecutor
}

func NewPostgresJobStore(db DatabaseExecutor) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) Save(ctx context.Context, job *models.JobProgress) error {
	query := `
		INSERT INTO index_jobs (
			id, kind, status, trigger, created_at, updated_at,
			started_at, completed_at, error_message, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message, result = EXCLUDED.result
	`

	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	_, err = s.db.Exec(ctx, query,
		job.JobID, string(job.Kind), job.Status, job.Trigger, job.CreatedAt,
		job.UpdatedAt, job.StartedAt, job.CompletedAt, job.ErrorMessage, resultJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	query := `
		SELECT id, kind, status, trigger, created_at, updated_at,
			   started_at, completed_at, error_message, result
		FROM index_jobs WHERE id = $1
	`

	var (
		job        models.JobProgress
		kind       string
		resultJSON []byte
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.JobID, &kind, &job.Status, &job.Trigger, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.CompletedAt, &job.ErrorMessage, &resultJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job.Kind = models.IndexKind(kind)

	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		job.Result = &models.BuildResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
	}
	return &job, nil
}
