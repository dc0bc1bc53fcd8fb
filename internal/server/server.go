package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/roomhub/apiserver/config"
	"github.com/roomhub/apiserver/internal/auth"
	"github.com/roomhub/apiserver/internal/db"
	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/handlers"
	"github.com/roomhub/apiserver/internal/metrics"
	"github.com/roomhub/apiserver/internal/mq"
	"github.com/roomhub/apiserver/internal/services"
	"github.com/roomhub/apiserver/internal/storage"
	"github.com/roomhub/apiserver/internal/store"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     mq.Backend
	log        logrus.FieldLogger
}

// New connects to the database and the configured event backends and
// assembles the router.
func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	broker, err := mq.New(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	archive, err := storage.New(ctx, cfg)
	if err != nil {
		closeBroker(broker)
		_ = dbConn.Close()
		return nil, fmt.Errorf("connect event archive: %w", err)
	}

	s, err := assemble(cfg, logger, dbConn, events.Build(broker, cfg.Events.Channel, archive))
	if err != nil {
		closeBroker(broker)
		_ = dbConn.Close()
		return nil, err
	}
	s.broker = broker
	return s, nil
}

func assemble(cfg config.Config, logger *logrus.Logger, dbConn *sql.DB, publisher events.Publisher) (*Server, error) {
	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	dialect := db.Dialect(cfg.Database.Driver)
	userRepo := store.NewUserRepository(dbConn, dialect)
	roomRepo := store.NewRoomRepository(dbConn, dialect)

	opts := services.Options{
		Logger:  logger,
		Metrics: collector,
		Events:  publisher,
	}
	accountService := services.NewAccountService(userRepo, hasher, opts)
	roomService := services.NewRoomService(roomRepo, userRepo, opts)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger),
		handlers.RecordStatus(collector),
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", metrics.Handler(registry))
	router.Route("/api/v1", func(r chi.Router) {
		handlers.Mount(r, handlers.API{
			Accounts:    accountService,
			Rooms:       roomService,
			Tokens:      tokens,
			CookieName:  cfg.Auth.CookieName,
			AuthLimiter: handlers.NewIPRateLimiter(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst),
			Logger:      logger,
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		log:        logger.WithField("component", "server"),
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then releases the database and
// broker connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	closeBroker(s.broker)
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

func closeBroker(broker mq.Backend) {
	if broker != nil {
		_ = broker.Close()
	}
}
