package engine

import (
	"log/slog"
	"sync"

	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/pkg/pipeline"
)

// Registry maps an inbound frame type to the action that handles it.
type Registry struct {
	logger   *slog.Logger
	actions  map[string]pipeline.ActionFunc
	actionMu sync.RWMutex
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		actions: make(map[string]pipeline.ActionFunc),
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// RegisterCore wires the relay handlers for every inbound frame type.
func (e *Registry) RegisterCore(relay *Relay) {
	e.RegisterAction(events.TypeCallSignal, relay.CallSignal)
	e.RegisterAction(events.TypeTyping, relay.Typing)
	e.RegisterAction(events.TypeGroupTyping, relay.GroupTyping)
	e.RegisterAction(events.TypeGroupCallSignal, relay.GroupCallSignal)
	e.logger.Info("Registered core actions", slog.Int("count", e.Count()))
}

func (e *Registry) RegisterAction(name string, fn pipeline.ActionFunc) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	if _, exists := e.actions[name]; exists {
		panic("action function already registered: " + name)
	}
	e.actions[name] = fn
}

func (e *Registry) GetActionFunc(name string) (pipeline.ActionFunc, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	fn, ok := e.actions[name]
	return fn, ok
}

func (e *Registry) Count() int {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	return len(e.actions)
}
