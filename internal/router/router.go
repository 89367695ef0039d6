package router

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/a-essam23/chatrelay/internal/engine"
	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/a-essam23/chatrelay/pkg/pipeline"
	"github.com/a-essam23/chatrelay/pkg/transport"
	"github.com/tidwall/gjson"
)

// EventRouter dispatches inbound frames to engine actions by their "type".
// The protocol has no error channel: anything that cannot be handled is
// logged and dropped.
type EventRouter struct {
	logger   *slog.Logger
	registry *engine.Registry
}

func NewEventRouter(logger *slog.Logger, registry *engine.Registry) *EventRouter {
	return &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
	}
}

// HandleMessage is a transport.MessageHandler. It never panics and never
// closes the connection.
func (r *EventRouter) HandleMessage(ctx context.Context, origin transport.Origin, msg []byte) {
	if !gjson.ValidBytes(msg) {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		r.logger.Debug("Dropping malformed frame", slog.String("connID", origin.ConnID.String()))
		return
	}
	typ := gjson.GetBytes(msg, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		r.logger.Debug("Dropping frame without type", slog.String("connID", origin.ConnID.String()))
		return
	}

	action, ok := r.registry.GetActionFunc(typ.Str)
	if !ok {
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		r.logger.Warn("Received unknown event", slog.String("event", typ.Str), slog.String("connID", origin.ConnID.String()))
		return
	}
	metrics.FramesReceived.WithLabelValues(typ.Str).Inc()

	logger := r.logger.With(
		slog.String("event", typ.Str),
		slog.Int64("userID", origin.UserID),
		slog.String("connID", origin.ConnID.String()),
	)
	r.execute(logger, action, &pipeline.Cargo{
		Logger:    logger,
		Ctx:       ctx,
		UserID:    origin.UserID,
		ConnID:    origin.ConnID,
		Scheme:    origin.Scheme,
		Host:      origin.Host,
		EventName: typ.Str,
		Payload:   msg,
	})
}

// execute runs one action inside its own failure boundary.
func (r *EventRouter) execute(logger *slog.Logger, action pipeline.ActionFunc, cargo *pipeline.Cargo) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.FramesDropped.WithLabelValues("panic").Inc()
			logger.Error("Action panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	logger.Debug("Executing action")
	err := action(cargo)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrRejected):
		metrics.FramesDropped.WithLabelValues("rejected").Inc()
		logger.Warn("Frame rejected", slog.String("reason", err.Error()))
	default:
		metrics.FramesDropped.WithLabelValues("failed").Inc()
		logger.Error("Action failed", slog.Any("error", err))
	}
}
