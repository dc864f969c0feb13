package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/ambutrack/config"
	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/handler"
	"github.com/shiva/ambutrack/internal/metrics"
	"github.com/shiva/ambutrack/internal/middleware"
	"github.com/shiva/ambutrack/internal/model"
	"github.com/shiva/ambutrack/internal/repository"
	"github.com/shiva/ambutrack/internal/scheduler"
	"github.com/shiva/ambutrack/internal/service"
	"github.com/shiva/ambutrack/internal/store"
	"github.com/shiva/ambutrack/internal/ws"
	"github.com/shiva/ambutrack/pkg/cache"
	"github.com/shiva/ambutrack/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Connect to PostgreSQL (optional) ────────────────
	// Postgres only holds the transition history; without it the
	// service runs fully, just without durable audit.
	var pgPool *pgxpool.Pool
	var history *repository.HistoryRepository
	if cfg.Postgres.Enabled {
		pgPool, err = db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		defer pgPool.Close()
		history = repository.NewHistoryRepository(pgPool)
		log.Println("✓ PostgreSQL connected")
	} else {
		log.Println("· PostgreSQL disabled, transition history off")
	}

	// ── Connect to Redis (optional) ─────────────────────
	// Redis fans feed events out across instances; one instance
	// alone uses the in-memory broker.
	var redisClient *redis.Client
	var broker feed.Broker
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		broker = feed.NewRedisBroker(redisClient)
		log.Println("✓ Redis connected")
	} else {
		broker = feed.NewMemoryBroker()
		log.Println("· Redis disabled, using in-memory feed broker")
	}

	// ── Initialize layers ───────────────────────────────
	metrics.Register()

	st := store.New()
	fd := feed.New(st, broker)
	sched := scheduler.New(st, fd, cfg.Dispatch.TickInterval)

	priority := model.Priority(cfg.Dispatch.DefaultPriority)
	if !priority.Valid() {
		log.Fatalf("invalid DISPATCH_DEFAULT_PRIORITY %q", cfg.Dispatch.DefaultPriority)
	}
	dispatchSvc := service.NewDispatchService(st, sched, fd, history, service.Config{
		Priority:              service.FixedPriority(priority),
		AutoAdvance:           cfg.Dispatch.AutoAdvance,
		AutoAdvanceDelay:      cfg.Dispatch.AutoAdvanceDelay,
		AutoAdvanceEtaMinutes: cfg.Dispatch.AutoAdvanceEtaMinutes,
	})

	hub := ws.NewHub(fd)

	requestHandler := handler.NewRequestHandler(dispatchSvc, fd)
	streamHandler := handler.NewStreamHandler(hub)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	// Health check and metrics endpoints.
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	// Request CRUD
	api.HandleFunc("/requests", requestHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/requests", requestHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", requestHandler.Get).Methods(http.MethodGet)
	// Lifecycle transitions
	api.HandleFunc("/requests/{id}/advance", requestHandler.Advance).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/arrive", requestHandler.Arrive).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/complete", requestHandler.Complete).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/cancel", requestHandler.Cancel).Methods(http.MethodPost)
	// Durable transition history, only when Postgres is on
	if history != nil {
		historyHandler := handler.NewHistoryHandler(history)
		api.HandleFunc("/requests/{id}/history", historyHandler.List).Methods(http.MethodGet)
	}
	// Live observation feed
	api.HandleFunc("/stream", streamHandler.Stream).Methods(http.MethodGet)

	// Wrap with CORS so browser dashboards can call the API.
	h := middleware.CORS(middleware.RequestLogger(middleware.Metrics(middleware.Recoverer(router))))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	// Stop pushing to dashboards, then stop the countdowns. Pools close
	// via the deferred Close calls above.
	hub.Shutdown()
	sched.Close()

	log.Println("✅ Server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks the optional backing
// services. Disabled services are reported but never degrade the status.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if pgPool == nil {
			resp.Services["postgres"] = "disabled"
		} else if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if redisClient == nil {
			resp.Services["redis"] = "disabled"
		} else if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
