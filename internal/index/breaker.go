package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/fusionrec/internal/metrics"
	"github.com/temcen/fusionrec/pkg/models"
)

type BreakerSettings struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "index-store",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerReader guards a Reader with a circuit breaker. While the breaker is
// open, reads fail fast with gobreaker.ErrOpenState and callers degrade the
// affected source.
type BreakerReader struct {
	next   Reader
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
	logger *logrus.Logger
}

func NewBreakerReader(next Reader, settings BreakerSettings, logger *logrus.Logger) *BreakerReader {
	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRatio
		},
		// Data absence and caller cancellation say nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNoGeneration) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    stateToString(from),
				"to":      stateToString(to),
			}).Warn("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerReader{
		next:   next,
		cb:     cb,
		name:   settings.Name,
		logger: logger,
	}
}

func (b *BreakerReader) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerReader) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func (b *BreakerReader) GetCFNeighbors(ctx context.Context, itemID string, k int) ([]models.CFNeighbor, error) {
	return castResult[[]models.CFNeighbor](b.execute(func() (interface{}, error) {
		return b.next.GetCFNeighbors(ctx, itemID, k)
	}))
}

func (b *BreakerReader) GetContentNeighbors(ctx context.Context, itemID string, k int) ([]models.ContentNeighbor, error) {
	return castResult[[]models.ContentNeighbor](b.execute(func() (interface{}, error) {
		return b.next.GetContentNeighbors(ctx, itemID, k)
	}))
}

func (b *BreakerReader) GetPopularity(ctx context.Context, itemID string) (float64, error) {
	return castResult[float64](b.execute(func() (interface{}, error) {
		return b.next.GetPopularity(ctx, itemID)
	}))
}

func (b *BreakerReader) GetTopPopular(ctx context.Context, k int, categories ...string) ([]models.PopularityScore, error) {
	return castResult[[]models.PopularityScore](b.execute(func() (interface{}, error) {
		return b.next.GetTopPopular(ctx, k, categories...)
	}))
}

func (b *BreakerReader) ActiveGenerations(ctx context.Context) (map[models.IndexKind]uint64, error) {
	return castResult[map[models.IndexKind]uint64](b.execute(func() (interface{}, error) {
		return b.next.ActiveGenerations(ctx)
	}))
}

// Snapshot pins the wrapped reader's generations. The pinned reader shares
// this breaker.
func (b *BreakerReader) Snapshot(ctx context.Context) (Reader, error) {
	pinned, err := castResult[Reader](b.execute(func() (interface{}, error) {
		return Pin(ctx, b.next)
	}))
	if err != nil {
		return nil, err
	}
	return &BreakerReader{next: pinned, cb: b.cb, name: b.name, logger: b.logger}, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
