package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	fb "firebase.google.com/go/v4"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/gaadisathi/config"
	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/events"
	"github.com/shiva/gaadisathi/internal/handler"
	"github.com/shiva/gaadisathi/internal/location"
	"github.com/shiva/gaadisathi/internal/middleware"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/places"
	"github.com/shiva/gaadisathi/internal/repository"
	"github.com/shiva/gaadisathi/internal/service"
	"github.com/shiva/gaadisathi/pkg/cache"
	"github.com/shiva/gaadisathi/pkg/db"
	"github.com/shiva/gaadisathi/pkg/firebase"
	"github.com/shiva/gaadisathi/pkg/logger"
)

var log = logger.WithComponent("main")

// backends holds the optional infrastructure clients; nil means not in use.
type backends struct {
	pg        *pgxpool.Pool
	redis     *redis.Client
	firebase  *fb.App
	firestore *firestore.Client
}

func (b *backends) Close() {
	if b.firestore != nil {
		_ = b.firestore.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pg != nil {
		b.pg.Close()
	}
}

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()
	b := &backends{}
	defer b.Close()

	// ── Connect to Redis ────────────────────────────────
	// Backs the geocode cache and, with Postgres, the change feed.
	if cfg.Store.Driver == config.StorePostgres || cfg.Maps.APIKey != "" {
		b.redis, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		log.Info("✓ Redis connected")
	}

	// ── Firebase (store and/or identity) ────────────────
	if cfg.Store.Driver == config.StoreFirestore || cfg.Auth.Provider == config.AuthFirebase {
		b.firebase, err = firebase.NewApp(ctx, cfg.Firebase)
		if err != nil {
			log.WithError(err).Fatal("failed to initialise Firebase")
		}
		log.Info("✓ Firebase initialised")
	}

	// ── Dispatch store ──────────────────────────────────
	store, err := openStore(ctx, cfg, b)
	if err != nil {
		log.WithError(err).Fatal("failed to open dispatch store")
	}

	// ── Identity verifier ───────────────────────────────
	var verifier auth.Verifier
	switch cfg.Auth.Provider {
	case config.AuthFirebase:
		verifier, err = auth.NewFirebaseVerifier(ctx, b.firebase)
		if err != nil {
			log.WithError(err).Fatal("failed to create Firebase verifier")
		}
	default:
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	}

	// ── Event publisher ─────────────────────────────────
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.WithField("topic", cfg.Kafka.Topic).Info("✓ Kafka publisher ready")
	}
	defer publisher.Close()

	// ── Maps provider ───────────────────────────────────
	var provider places.Provider
	if cfg.Maps.APIKey != "" {
		google, err := places.NewGoogleProvider(cfg.Maps.APIKey, cfg.Maps.RequestTimeout)
		if err != nil {
			log.WithError(err).Fatal("failed to create maps client")
		}
		provider = places.NewCachedProvider(google, places.RedisKV{Client: b.redis}, cfg.Maps.GeocodeCacheTTL)
	} else {
		log.Warn("no maps key: place search disabled, routes are straight lines")
	}

	// ── Initialize layers ───────────────────────────────
	tracker := location.NewTracker(store, location.TrackerConfig{
		Interval:     cfg.Location.TrackerInterval,
		MinDistanceM: cfg.Location.MinDistanceM,
		MinInterval:  cfg.Location.MinInterval,
	})
	defer tracker.StopAll()

	pricingSvc := service.NewPricingService(service.DefaultFareConfig())
	rideSvc := service.NewRideService(store, pricingSvc, publisher)
	driverSvc := service.NewDriverService(store, tracker, location.LocatorConfig{
		Fallback:         model.Location{Lat: cfg.Location.FallbackLat, Lon: cfg.Location.FallbackLon},
		HighAccuracyWait: cfg.Location.HighAccuracyWait,
		LowAccuracyWait:  cfg.Location.LowAccuracyWait,
	}, publisher)
	discoverySvc := service.NewDiscoveryService(store, service.DiscoveryConfig{
		DriverRadiusKm: cfg.Dispatch.DriverSearchRadiusKm,
		RideRadiusKm:   cfg.Dispatch.RideSearchRadiusKm,
		PendingLimit:   cfg.Dispatch.PendingRidesLimit,
		AcceptTimeout:  cfg.Dispatch.DriverSearchTimeout,
	})

	handlers := handler.Handlers{
		Pricing: handler.NewPricingHandler(pricingSvc),
		Rides:   handler.NewRideHandler(rideSvc, discoverySvc, cfg.Dispatch.AcceptTimeout),
		Drivers: handler.NewDriverHandler(driverSvc, rideSvc, discoverySvc),
		Places:  handler.NewPlacesHandler(provider, places.NewRoutePlanner(provider)),
		Streams: handler.NewStreamHandler(discoverySvc, rideSvc, driverSvc),
	}

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer, middleware.RequestLogger, middleware.Metrics)

	// Health check and metrics endpoints.
	router.HandleFunc("/health", healthHandler(b)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API v1 routes and live streams, both authenticated.
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(verifier))
	ws := router.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.Auth(verifier))
	handler.Register(api, ws, handlers)

	// Wrap with CORS so browser clients can call the API.
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      middleware.CORS(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// ── Serve until a shutdown signal ───────────────────
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		log.WithFields(map[string]interface{}{
			"addr":  cfg.Server.ServerAddr(),
			"store": cfg.Store.Driver,
			"auth":  cfg.Auth.Provider,
		}).Info("🚀 Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("⏳ Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		tracker.StopAll()
		_ = publisher.Close()
		b.Close()
		os.Exit(1)
	}
	log.Info("✅ Server gracefully stopped")
}

// openStore builds the configured DispatchStore.
func openStore(ctx context.Context, cfg *config.Config, b *backends) (repository.DispatchStore, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		b.pg = pool
		if err := db.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		log.Info("✓ PostgreSQL connected and migrated")
		return repository.NewPostgresStore(pool, cache.NewChangeFeed(b.redis, "gaadisathi:changes")), nil

	case config.StoreFirestore:
		client, err := b.firebase.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		b.firestore = client
		log.Info("✓ Firestore connected")
		return repository.NewFirestoreStore(client), nil

	case config.StoreMemory:
		log.Warn("using in-memory store: state is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks the configured backends.
func healthHandler(b *backends) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if b.pg != nil {
			if err := db.HealthCheck(r.Context(), b.pg); err != nil {
				resp.Status = "degraded"
				resp.Services["postgres"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["postgres"] = "healthy"
			}
		}

		if b.redis != nil {
			if err := cache.HealthCheck(r.Context(), b.redis); err != nil {
				resp.Status = "degraded"
				resp.Services["redis"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["redis"] = "healthy"
			}
		}

		if b.firestore != nil {
			resp.Services["firestore"] = "configured"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
