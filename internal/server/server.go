package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/chatrelay/internal/broadcast"
	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/a-essam23/chatrelay/internal/engine"
	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/a-essam23/chatrelay/internal/router"
	"github.com/a-essam23/chatrelay/internal/server/middleware"
	"github.com/a-essam23/chatrelay/pkg/config"
	"github.com/a-essam23/chatrelay/pkg/state"
	"github.com/a-essam23/chatrelay/pkg/state/statemanager"
	"github.com/a-essam23/chatrelay/pkg/transport"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type App struct {
	logger      *slog.Logger
	registry    state.Registry
	broadcaster *broadcast.Broadcaster
	eventRouter *router.EventRouter
	wg          sync.WaitGroup
	http        *http.Server
	handler     http.Handler
	config      *config.Config
	acceptOpts  *websocket.AcceptOptions

	ctx         context.Context
	// connCtx parents every connection. It outlives ctx so that shutdown can
	// close connections with GoingAway instead of cancelling them under us.
	connCtx     context.Context
	cancelConns context.CancelFunc
}

// NewApp wires the registry, broadcaster, relays and HTTP routes. dir is
// consulted by the relays; verifier backs the auth gate.
func NewApp(rootCtx context.Context, logger *slog.Logger, cfg *config.Config, dir collab.Directory, verifier collab.TokenVerifier) *App {
	registry := statemanager.NewInMemoryRegistry(logger)
	broadcaster := broadcast.New(registry, logger)

	actions := engine.New(logger)
	actions.RegisterCore(engine.NewRelay(dir, broadcaster, logger))

	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(rootCtx))
	app := &App{
		logger:      logger,
		registry:    registry,
		broadcaster: broadcaster,
		eventRouter: router.NewEventRouter(logger, actions),
		config:      cfg,
		acceptOpts:  acceptOptions(cfg.Server.AllowedOrigins),
		ctx:         rootCtx,
		connCtx:     connCtx,
		cancelConns: cancelConns,
	}

	connCounter := middleware.UserConnectionCounter(registry.Count)
	// Create a cycler function that closes over the registry and logger.
	connCycler := func(userID int64) {
		oldest, found := registry.FindOldest(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.Int64("userID", userID), slog.String("connID", oldest.ID().String()))
			oldest.Close(transport.ErrCycled)
		}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", app.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.With(
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger, cfg.Server.Auth.TokenParam),
		middleware.NewAuthGate(logger, verifier, cfg.Server.Auth.TokenParam, app.acceptOpts),
		middleware.NewConnectionLimiter(logger, connCounter, connCycler, cfg.Server.ConnectionLimit),
	).Get("/ws", app.upgradeHandler)

	if cfg.Server.InternalToken != "" {
		r.Route("/internal", func(r chi.Router) {
			r.Use(app.requireInternalToken)
			r.Post("/notify/{kind}", app.notifyHandler)
		})
	} else {
		logger.Info("Internal notify API disabled: server.internalToken is empty")
	}

	app.handler = r
	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.connCtx
		},
	}
	return app
}

func acceptOptions(origins []string) *websocket.AcceptOptions {
	if len(origins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: origins}
}

// Broadcaster is the delivery API for in-process REST collaborators.
func (a *App) Broadcaster() *broadcast.Broadcaster {
	return a.broadcaster
}

func (a *App) Registry() state.Registry {
	return a.registry
}

// Handler exposes the routes without a listener, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until the root context is cancelled, then shuts down.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		a.closeAll()
		return err
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.UserID <= 0 {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, a.acceptOpts)
	if err != nil {
		metrics.Handshakes.WithLabelValues("error").Inc()
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}
	metrics.Handshakes.WithLabelValues("accepted").Inc()

	tc := a.config.Transport
	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			PingInterval:   tc.PingInterval,
			WriteTimeout:   tc.WriteTimeout,
			SendBuffer:     tc.SendBuffer,
			MaxMessageSize: tc.MaxMessageSize,
			RatePerSecond:  tc.RateLimit.PerSecond,
			RateBurst:      tc.RateLimit.Burst,
		},
		transport.Origin{
			UserID: reqMeta.UserID,
			IP:     reqMeta.IP,
			Scheme: reqMeta.Scheme,
			Host:   reqMeta.Host,
		},
		a.logger,
	)
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(c *transport.Connection, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", c.ID().String()))
		a.registry.Remove(c.UserID(), c)
		a.updateGauges()
	})

	a.registry.Add(reqMeta.UserID, conn)
	a.updateGauges()

	connLogger.Info("User connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) updateGauges() {
	metrics.ConnectionsActive.Set(float64(a.registry.Connections()))
	metrics.UsersOnline.Set(float64(a.registry.Users()))
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.http.Shutdown(shutdownCtx)

	a.closeAll()
	if err != nil {
		return err
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// closeAll closes every registered connection with GoingAway and waits for
// their close paths to finish. Closes run in parallel since each one may wait
// on the peer's close frame.
func (a *App) closeAll() {
	conns := a.registry.All()
	a.logger.Info("Closing all active connections...", slog.Int("count", len(conns)))
	for _, conn := range conns {
		go conn.Close(transport.ErrShutdown)
	}
	a.wg.Wait()
	a.cancelConns()
}
