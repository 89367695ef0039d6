package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/a-essam23/chatrelay/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("collaborator unavailable")

type BreakerSettings struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Guarded wraps a Directory so a failing store fails fast instead of stalling
// every connection's read loop.
type Guarded struct {
	next   Directory
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	logger *slog.Logger
}

var _ Directory = (*Guarded)(nil)

func NewGuarded(next Directory, settings BreakerSettings, logger *slog.Logger) *Guarded {
	if settings.Name == "" {
		settings.Name = "directory"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	logger = logger.With(slog.String("component", "collab_breaker"))
	metrics.BreakerState.WithLabelValues(settings.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		// A missing user or a cancelled frame is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Guarded{next: next, cb: cb, name: settings.Name, logger: logger}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func execute[T any](g *Guarded, fn func() (T, error)) (T, error) {
	var zero T
	res, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", g.name, ErrUnavailable)
		}
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return typed, nil
}

func (g *Guarded) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return execute(g, func() (*models.User, error) { return g.next.GetUser(ctx, id) })
}

func (g *Guarded) IsBlocked(ctx context.Context, a, b int64) (bool, error) {
	return execute(g, func() (bool, error) { return g.next.IsBlocked(ctx, a, b) })
}

func (g *Guarded) CanCall(ctx context.Context, caller, callee int64) (bool, error) {
	return execute(g, func() (bool, error) { return g.next.CanCall(ctx, caller, callee) })
}

func (g *Guarded) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	return execute(g, func() (bool, error) { return g.next.IsMember(ctx, userID, groupID) })
}

func (g *Guarded) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	return execute(g, func() ([]int64, error) { return g.next.MembersOf(ctx, groupID) })
}

func (g *Guarded) InsertMissedCallMessage(ctx context.Context, callerID, calleeID int64, isVideo bool) (*models.Message, error) {
	return execute(g, func() (*models.Message, error) {
		return g.next.InsertMissedCallMessage(ctx, callerID, calleeID, isVideo)
	})
}
