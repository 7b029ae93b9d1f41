package supervisor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/temcen/fusionrec/internal/messaging"
	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type MockJobs struct {
	mock.Mock
}

func (m *MockJobs) Submit(ctx context.Context, kind models.IndexKind, trigger string) (*models.JobProgress, error) {
	args := m.Called(ctx, kind, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobProgress), args.Error(1)
}

func (m *MockJobs) Rebuild(ctx context.Context, kind models.IndexKind, trigger string) (*models.BuildResult, error) {
	args := m.Called(ctx, kind, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BuildResult), args.Error(1)
}

func TestRebuildScheduler_SubmitsOnStartAndOnTick(t *testing.T) {
	jobs := new(MockJobs)
	job := &models.JobProgress{JobID: uuid.New(), Kind: models.IndexKindPopularity, Status: models.JobStatusQueued}
	jobs.On("Submit", mock.Anything, models.IndexKindPopularity, "schedule").Return(job, nil)

	scheduler := NewRebuildScheduler(jobs, models.IndexKindPopularity, 20*time.Millisecond, true, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	err := scheduler.Serve(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// One submission on start plus several ticks.
	assert.GreaterOrEqual(t, len(jobs.Calls), 3)
	jobs.AssertCalled(t, "Submit", mock.Anything, models.IndexKindPopularity, "schedule")
}

func TestRebuildScheduler_BuildInProgressIsSkipped(t *testing.T) {
	jobs := new(MockJobs)
	jobs.On("Submit", mock.Anything, models.IndexKindCF, "schedule").Return(nil, services.ErrBuildInProgress)

	scheduler := NewRebuildScheduler(jobs, models.IndexKindCF, 15*time.Millisecond, false, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, scheduler.Serve(ctx), context.DeadlineExceeded)
	assert.NotEmpty(t, jobs.Calls)
}

func TestRebuildScheduler_DisabledInterval(t *testing.T) {
	jobs := new(MockJobs)
	scheduler := NewRebuildScheduler(jobs, models.IndexKindContent, 0, true, testLogger())

	err := scheduler.Serve(context.Background())
	assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	jobs.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, "rebuild-scheduler-content", scheduler.String())
}

func TestRebuildConsumer_Handle(t *testing.T) {
	cmd := models.RebuildCommand{Kind: models.IndexKindCF, RequestedBy: "ops"}

	tests := []struct {
		name       string
		result     *models.BuildResult
		err        error
		checkError func(t *testing.T, err error)
	}{
		{
			name:   "completed",
			result: &models.BuildResult{Kind: models.IndexKindCF, GenerationID: 4},
			checkError: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "build already running",
			err:  services.ErrBuildInProgress,
			checkError: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "unknown kind is not retried",
			err:  &services.ValidationError{Field: "kind", Message: "unknown index kind"},
			checkError: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, messaging.ErrInvalidCommand)
			},
		},
		{
			name: "build failure is returned for retry",
			err:  errors.New("cf index build failed: connection reset"),
			checkError: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.NotErrorIs(t, err, messaging.ErrInvalidCommand)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := new(MockJobs)
			if tt.result != nil {
				jobs.On("Rebuild", mock.Anything, models.IndexKindCF, "kafka").Return(tt.result, nil)
			} else {
				jobs.On("Rebuild", mock.Anything, models.IndexKindCF, "kafka").Return(nil, tt.err)
			}

			consumer := NewRebuildConsumer(nil, jobs, testLogger())
			tt.checkError(t, consumer.Handle(context.Background(), cmd))
			jobs.AssertExpectations(t)
		})
	}
}

// replayConsumer hands each queued command to the handler, then waits.
type replayConsumer struct {
	commands []models.RebuildCommand
	results  []error
}

func (r *replayConsumer) ConsumeRebuildRequests(ctx context.Context, handler messaging.RebuildHandler) error {
	for _, cmd := range r.commands {
		r.results = append(r.results, handler(ctx, cmd))
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRebuildConsumer_Serve(t *testing.T) {
	jobs := new(MockJobs)
	jobs.On("Rebuild", mock.Anything, models.IndexKindPopularity, "kafka").
		Return(&models.BuildResult{Kind: models.IndexKindPopularity, GenerationID: 2}, nil)

	transport := &replayConsumer{commands: []models.RebuildCommand{{Kind: models.IndexKindPopularity}}}
	consumer := NewRebuildConsumer(transport, jobs, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, consumer.Serve(ctx), context.DeadlineExceeded)
	assert.Equal(t, []error{nil}, transport.results)
	jobs.AssertNumberOfCalls(t, "Rebuild", 1)
}

type fakeHTTPServer struct {
	mu       sync.Mutex
	listen   error
	stopped  chan struct{}
	shutdown bool
}

func newFakeHTTPServer(listen error) *fakeHTTPServer {
	return &fakeHTTPServer{listen: listen, stopped: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stopped
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	close(f.stopped)
	return nil
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer(nil)
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("http service did not stop")
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.True(t, server.shutdown)
}

func TestHTTPService_ListenFailure(t *testing.T) {
	svc := NewHTTPService(newFakeHTTPServer(errors.New("address already in use")), 0)

	err := svc.Serve(context.Background())
	assert.ErrorContains(t, err, "address already in use")
	assert.Equal(t, "http-server", svc.String())
}
