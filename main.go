package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pliu/sealchat/internal/auth"
	"github.com/pliu/sealchat/internal/config"
	"github.com/pliu/sealchat/internal/handlers"
	"github.com/pliu/sealchat/internal/keydir"
	"github.com/pliu/sealchat/internal/logging"
	"github.com/pliu/sealchat/internal/metrics"
	"github.com/pliu/sealchat/internal/middleware"
	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/store/sqlstore"
	"github.com/pliu/sealchat/internal/ws"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	metrics.MustRegister()

	// Initialize Database
	store, err := sqlstore.New(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.DBDriver).Fatal("Failed to open database")
	}
	defer store.Close()

	// Redis only caches public keys; without it lookups go to the database.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	keys := keydir.New(store, rdb, log)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	svc := service.New(store,
		service.WithRequireEnvelope(cfg.RequireEnvelope),
		service.WithLogger(log),
	)

	// Initialize WebSocket Hub
	hub := ws.NewHub(svc, log, ws.WithSendBuffer(cfg.SendBuffer))
	go hub.Run()
	defer hub.Stop()

	api := &handlers.API{
		Auth:     &handlers.AuthHandler{Store: store, Tokens: tokens, Log: log},
		Users:    &handlers.UserHandler{Store: store, Keys: keys, Presence: hub.Registry(), Log: log},
		Chats:    &handlers.ChatHandler{Service: svc, Hub: hub, Log: log},
		Messages: &handlers.MessageHandler{Service: svc, Hub: hub, Log: log},
	}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.MetricsMiddleware)

	api.Mount(r, tokens)

	// WebSocket Endpoint
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, tokens, w, r)
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"database": "ok", "keyCache": "ok"}
		code := http.StatusOK
		if err := store.Ping(r.Context()); err != nil {
			status["database"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
		if err := keys.Ping(r.Context()); err != nil {
			status["keyCache"] = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: *addr, Handler: edge(cfg, r), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", *addr).Info("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server failed")
	}
	log.Info("Server stopped")
}

// edge wraps the whole router so preflights and unmatched routes are
// covered too; mux only runs Use middleware on matched routes.
func edge(cfg config.Config, h http.Handler) http.Handler {
	h = httprate.LimitByIP(cfg.RateLimit, time.Minute)(h)
	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})(h)
}
