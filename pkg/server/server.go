package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/gorilla/websocket"

	"github.com/daviddao/docsync/pkg/config"
	"github.com/daviddao/docsync/pkg/fanout"
	"github.com/daviddao/docsync/pkg/store"
)

// Server ties the coordinator to its listener, store, and fanout bus.
type Server struct {
	cfg      config.Config
	log      *log.Entry
	store    store.Adapter
	bus      fanout.Bus
	coord    *Coordinator
	auth     Authorizer
	upgrader websocket.Upgrader
}

// New assembles a server from its configuration: the persistence
// adapter named by store.driver, Redis fan-out when fanout.redis_addr
// is set (in-process otherwise), and the open authorizer.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := setupLogger(cfg.Log.Level)

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	var bus fanout.Bus
	if cfg.Fanout.RedisAddr != "" {
		bus, err = fanout.NewRedis(ctx, cfg.Fanout.RedisAddr)
		if err != nil {
			st.Close()
			return nil, err
		}
		logger.WithField("addr", cfg.Fanout.RedisAddr).Info("fanout: redis")
	} else {
		bus = fanout.NewMemory()
		logger.Info("fanout: in-process")
	}

	s := &Server{
		cfg:   cfg,
		log:   logger,
		store: st,
		bus:   bus,
		coord: NewCoordinator(st, bus, logger),
		auth:  OpenAuthorizer{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	return s, nil
}

func openStore(cfg config.StoreConfig) (store.Adapter, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Path)
	case "bolt":
		return store.NewBolt(cfg.Path)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func setupLogger(level string) *log.Entry {
	log.SetHandler(text.New(os.Stderr))
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	return log.WithField("app", "docsync")
}

// Coordinator exposes the coordinator for embedding and tests.
func (s *Server) Coordinator() *Coordinator { return s.coord }

// Handler returns the HTTP handler serving the /ws endpoint.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		c := newConn(ws, s.coord, s.auth, s.cfg.Server.SendQueue, s.log)
		c.run(ctx)
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.coord.Run(ctx)

	httpSrv := &http.Server{
		Addr:    s.cfg.Server.Listen,
		Handler: s.Handler(ctx),
	}
	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()
	s.log.WithField("listen", s.cfg.Server.Listen).Info("serving")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck // best-effort drain
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			s.closeAll()
			return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
		}
	}
	s.closeAll()
	return nil
}

func (s *Server) closeAll() {
	s.bus.Close()
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("close store")
	}
}
