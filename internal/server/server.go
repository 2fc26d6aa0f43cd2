package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"collabcore/internal/auth"
	"collabcore/internal/broadcast"
	"collabcore/internal/content"
	"collabcore/internal/dispatch"
	"collabcore/internal/lock"
	"collabcore/internal/protocol"
	"collabcore/internal/registry"
	"collabcore/internal/server/middleware"
	"collabcore/internal/session"
	"collabcore/pkg/config"
	"collabcore/pkg/transport"
)

type App struct {
	logger     *slog.Logger
	conns      *registry.Registry
	tracker    *session.Tracker
	locks      *lock.Manager
	cast       *broadcast.Broadcaster
	dispatcher *dispatch.Dispatcher
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, contents content.Store) *App {
	conns := registry.New(logger)
	tracker := session.NewTracker(logger)
	cast := broadcast.New(logger, conns, tracker)

	// Every release, explicit or TTL expiry, is announced to the content
	// item's audience on the same contract.
	locks := lock.NewManager(logger, func(ev lock.ReleaseEvent) {
		evt := protocol.NewEvent(protocol.TypeContentUnlocked, ev.Lock.ContentID, ev.Lock.OwnerID, protocol.LockPayload{
			OwnerID:    ev.Lock.OwnerID,
			AcquiredAt: ev.Lock.AcquiredAt,
			ExpiresAt:  ev.Lock.ExpiresAt(),
			Auto:       ev.Auto,
		})
		cast.ToContent(ev.Lock.ContentID, evt)
	})

	// Cascade: a vanished connection takes its sessions with it, and the
	// remaining audience hears about each departure.
	conns.OnRemove(func(connID uuid.UUID) {
		for _, sess := range tracker.RemoveByConnection(connID) {
			left := protocol.NewEvent(protocol.TypeUserLeft, sess.ContentID, sess.UserID, protocol.PresencePayload{
				SessionID:   sess.ID.String(),
				ActiveUsers: tracker.ActiveUsersFor(sess.ContentID),
			})
			cast.ToContent(sess.ContentID, left)
		}
	})

	authz := auth.NewGrantAuthorizer(conns.PermissionsFor)
	dispatcher := dispatch.New(logger, conns, tracker, locks, cast, authz, contents, dispatch.LockTTLConfig{
		Default: cfg.Lock.DefaultTTL,
		Max:     cfg.Lock.MaxTTL,
	})

	app := &App{
		logger:     logger,
		conns:      conns,
		tracker:    tracker,
		locks:      locks,
		cast:       cast,
		dispatcher: dispatcher,
		config:     cfg,
		ctx:        rootCtx,
	}

	cycler := func(userID int64) {
		if oldest, found := conns.OldestFor(userID); found {
			logger.Info("cycling connection: closing oldest", slog.Int64("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(logger, conns.ConnectionCount, cycler, cfg.Server.ConnectionLimit),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	ident := registry.Identity{UserID: reqMeta.UserID, Perms: reqMeta.Perms}
	if _, err := a.conns.Admit(conn, reqMeta.IP, ident); err != nil {
		connLogger.Error("failed to admit connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.dispatcher.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("removing connection after closure", slog.String("connID", id.String()))
		a.conns.Remove(id)
	})

	conn.Run()

	welcome := protocol.NewEvent(protocol.TypeWelcome, "", reqMeta.UserID, protocol.WelcomePayload{
		ConnectionID: conn.ID().String(),
	})
	if b, err := welcome.Encode(); err == nil {
		conn.Send(b)
	}

	connLogger.Info("user connection fully established", slog.String("connID", conn.ID().String()))
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("closing all active connections...")
	for _, entry := range a.conns.All() {
		entry.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("server shut down gracefully.")
	return nil
}
