package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	_ "go.uber.org/automaxprocs"

	"github.com/altruist-engine/altruist/internal/v1/bridge"
	"github.com/altruist-engine/altruist/internal/v1/bus"
	"github.com/altruist-engine/altruist/internal/v1/config"
	"github.com/altruist-engine/altruist/internal/v1/delta"
	"github.com/altruist-engine/altruist/internal/v1/engine"
	"github.com/altruist-engine/altruist/internal/v1/game"
	"github.com/altruist-engine/altruist/internal/v1/health"
	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/middleware"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/portal"
	"github.com/altruist-engine/altruist/internal/v1/ratelimit"
	"github.com/altruist-engine/altruist/internal/v1/router"
	"github.com/altruist-engine/altruist/internal/v1/session"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/tracing"
	"github.com/altruist-engine/altruist/internal/v1/transport"
	"github.com/altruist-engine/altruist/internal/v1/types"
	"github.com/altruist-engine/altruist/internal/v1/world"
)

// vitalsSyncFrequency gates the health/energy fields to every Nth tick.
const vitalsSyncFrequency = 10

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Tracing (Optional) ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				slog.Error("Tracer shutdown failed", "error", err)
			}
		}()
		slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
	}

	codec, err := packet.NewCodec(cfg.Codec)
	if err != nil {
		slog.Error("Invalid codec", "error", err)
		os.Exit(1)
	}

	// --- Shared Infrastructure (Optional) ---
	// Redis enables the two-tier store, the inter-process bridge and the
	// fleet-wide rate limit budget.
	readiness := health.NewReadiness()
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-process mode", "error", err)
			busService = nil
		} else {
			readiness.Register(health.ConnectableFunc("redis", busService.Ping))
			slog.Info("✅ Redis initialized for multi-process mode", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-process mode (Redis disabled)")
	}

	// A typed nil *bus.Service inside the interface would defeat every
	// nil check downstream.
	var sharedTier types.Bus
	if busService != nil {
		sharedTier = busService
	}

	// --- Core Runtime ---
	st := store.New(cfg.RoomCapacity, sharedTier, cfg.ProcessID)

	mainWorld, err := world.NewManager(0, cfg.WorldWidth, cfg.WorldHeight, cfg.PartitionSize, cfg.CellSize)
	if err != nil {
		slog.Error("Failed to build world", "error", err)
		os.Exit(1)
	}
	coordinator := world.NewCoordinator()
	if err := coordinator.RegisterWorld(mainWorld, cfg.PhysicsRate); err != nil {
		slog.Error("Failed to register world", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg.EngineRate, cfg.PhysicsRate, readiness, coordinator)
	if err != nil {
		slog.Error("Failed to build engine", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	// --- Message Plane ---
	var br *bridge.Bridge
	var publisher router.Publisher
	if busService != nil {
		br, err = bridge.New(busService, codec, cfg.ProcessID, cfg.QueueName, cfg.NotifyChannel)
		if err != nil {
			slog.Error("Failed to build bridge", "error", err)
			os.Exit(1)
		}
		publisher = br
	}

	clients := router.NewClientSender(st, codec, publisher)
	rooms := router.NewRoomSender(st, clients)
	if br != nil {
		br.SetDeliverer(clients)
		readiness.OnRecover(br.Recover)
	}

	deltas := delta.NewEngine()
	if err := game.RegisterPlayerSchema(vitalsSyncFrequency); err != nil {
		slog.Error("Failed to register player schema", "error", err)
		os.Exit(1)
	}
	synchronizator := router.NewSynchronizator(deltas, st, clients, eng)

	// --- Services ---
	gameSvc := game.NewService(mainWorld, synchronizator, deltas, st, sharedTier, cfg.EngineRate)
	sessionSvc := session.NewService(st, clients, rooms)
	sessionSvc.Joined = func(ctx context.Context, clientID types.ConnectionID, roomID types.RoomID) {
		gameSvc.Spawn(ctx, clientID, roomID)
	}
	sessionSvc.Left = gameSvc.Despawn

	gamePortal, err := portal.New("game", clients)
	if err != nil {
		slog.Error("Failed to build portal", "error", err)
		os.Exit(1)
	}
	if err := sessionSvc.Register(gamePortal); err != nil {
		slog.Error("Failed to register session gates", "error", err)
		os.Exit(1)
	}
	if err := gameSvc.Register(gamePortal); err != nil {
		slog.Error("Failed to register game gates", "error", err)
		os.Exit(1)
	}
	portals := portal.NewRegistry()
	if err := portals.Add(gamePortal); err != nil {
		slog.Error("Failed to register portal", "error", err)
		os.Exit(1)
	}

	// --- Transport ---
	var limiterBackend *redis.Client
	if busService != nil {
		limiterBackend = busService.Client()
	}
	limiter, err := ratelimit.New(cfg.RateLimitWsIp, limiterBackend)
	if err != nil {
		slog.Error("Failed to build rate limiter", "error", err)
		os.Exit(1)
	}
	allowedOrigins := transport.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	endpoint := transport.NewEndpoint(st, portals, codec, limiter, allowedOrigins)
	endpoint.OnDisconnect(sessionSvc.Disconnected)
	endpoint.OnDisconnect(gameSvc.ForgetViewer)
	endpoint.OnDisconnect(func(_ context.Context, id types.ConnectionID) {
		synchronizator.ForgetViewer(id)
	})

	// --- Scheduled Jobs ---
	monitor := game.NewSystemMonitor()
	scheduled := []struct {
		name string
		fn   any
		rate engine.CycleRate
	}{
		{"movement", gameSvc.Integrate, engine.EveryTicks(1)},
		{"regeneration", gameSvc.Regenerate, engine.EverySeconds(5)},
		{"cleanup", func(ctx context.Context) { st.Cleanup(ctx) }, engine.EverySeconds(30)},
		{"monitor", monitor.Sample, engine.EverySeconds(10)},
	}
	for _, job := range scheduled {
		if err := eng.Schedule(job.name, job.fn, job.rate); err != nil {
			slog.Error("Failed to schedule job", "job", job.name, "error", err)
			os.Exit(1)
		}
	}
	if err := eng.ScheduleCron("autosave", "*/5 * * * *", gameSvc.Snapshot); err != nil {
		slog.Error("Failed to schedule autosave", "error", err)
		os.Exit(1)
	}

	// --- HTTP Surface ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	httpRouter.Use(middleware.CorrelationID())
	if cfg.TracingEnabled {
		httpRouter.Use(otelgin.Middleware(tracing.ServiceName))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	httpRouter.Use(cors.New(corsConfig))

	wsGroup := httpRouter.Group("/ws")
	{
		wsGroup.GET("/:portal", endpoint.ServeWS)
	}

	httpRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(readiness)
	httpRouter.GET("/health/live", healthHandler.Liveness)
	httpRouter.GET("/health/ready", healthHandler.Readiness)

	// --- Startup Gate ---
	// The engine loops stay parked until every dependency answers.
	if err := readiness.WaitForStartup(ctx, cfg.StartupTimeout); err != nil {
		slog.Error("Startup dependencies never became ready", "error", err)
		os.Exit(1)
	}
	readiness.Monitor(ctx, &wg, 10*time.Second)

	if br != nil {
		br.Start(ctx, &wg)
	}
	if err := eng.Start(ctx, &wg); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpRouter,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Gateway starting", "port", cfg.Port, "portals", portals.Paths())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Stop the engine loops and the bridge subscription first so no new
	// work lands while connections drain.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	wg.Wait()

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
