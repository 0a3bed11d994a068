package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthnexus-backend/internal/database"
	consultHandler "healthnexus-backend/internal/handler/http/consult"
	pushHandler "healthnexus-backend/internal/handler/http/push"
	wsHandler "healthnexus-backend/internal/handler/ws"
	"healthnexus-backend/internal/middleware"
	"healthnexus-backend/internal/realtime"
	cassandraRepo "healthnexus-backend/internal/repository/cassandra"
	cockroachRepo "healthnexus-backend/internal/repository/cockroach"
	redisRepo "healthnexus-backend/internal/repository/redis"
	"healthnexus-backend/internal/service/consult"
	"healthnexus-backend/internal/service/storage"
	"healthnexus-backend/internal/service/transcription"
	"healthnexus-backend/internal/transport"
	"healthnexus-backend/pkg/audit"
	"healthnexus-backend/pkg/constants"
	"healthnexus-backend/pkg/env"
	"healthnexus-backend/pkg/jwt"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/metrics"
	"healthnexus-backend/pkg/push"
)

func main() {
	// 1. Logger
	if err := logger.Init(&logger.Config{
		Level:  env.GetString("LOG_LEVEL", "info"),
		Format: env.GetString("LOG_FORMAT", "json"),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2. JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute, 30*24*time.Hour)

	// 3. CockroachDB for sessions, notes and transcripts
	cockroachConfig := &database.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "healthnexus_db"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
	}

	cockroachDB, err := database.NewCockroachDBWithRetry(context.Background(), cockroachConfig, 5)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("Connected to CockroachDB")

	// 4. Cassandra for call chat history
	cassandraConfig := &database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "healthnexus_ks"),
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	}
	cassandraDB, err := database.NewCassandraDB(cassandraConfig)
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	// 5. Redis for the session event bus and push tokens
	database.InitRedisMetrics()

	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}
	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis")

	go redisDB.StartHealthCheck(context.Background(), 10*time.Second)

	// 6. MinIO for screenshots and recordings
	minioClient, err := storage.NewMinioClient(
		env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
		env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
		env.GetBool("MINIO_USE_SSL", false),
	)
	if err != nil {
		logger.Fatal("Failed to connect to MinIO", zap.Error(err))
	}

	artifactStore := storage.NewArtifactStore(minioClient, constants.ArtifactBucket)
	if err := artifactStore.Init(context.Background()); err != nil {
		logger.Fatal("Failed to prepare artifact bucket", zap.Error(err))
	}
	logger.Info("Connected to MinIO", zap.String("bucket", constants.ArtifactBucket))

	// 7. Metrics
	appMetrics := metrics.NewMetrics("consult-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 8. Push notifications
	pushProvider, err := push.NewProvider()
	if err != nil {
		logger.Fatal("Failed to create push provider", zap.Error(err))
	}
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)
	pushSvc := push.NewService(pushProvider, pushTokenRepo, appMetrics)

	// 9. Repositories
	sessionRepo := cockroachRepo.NewSessionRepository(cockroachDB.Pool)
	noteRepo := cockroachRepo.NewNoteRepository(cockroachDB.Pool)
	messageRepo := cassandraRepo.NewMessageRepository(cassandraDB.Session)

	// 10. Session event bus + transcription engine
	bus := realtime.NewBus(redisDB.Client)
	engine := transcription.NewEngine(transcription.NewRecognizer(), noteRepo, appMetrics)

	// 11. Call manager
	devices := transport.NewSyntheticDevices()
	manager := consult.NewManager(consult.ManagerConfig{
		Sessions:    sessionRepo,
		Notes:       noteRepo,
		Messages:    messageRepo,
		Bus:         consult.RealtimeBus{Bus: bus},
		Transcriber: engine,
		Notifier:    pushSvc,
		Artifacts:   artifactStore,
		NewTransport: func(callerID uuid.UUID) transport.Transport {
			return transport.NewPeerTransport(callerID, devices, bus)
		},
		Metrics: appMetrics,
	})

	// 12. Handlers
	auditLogger := audit.NewLogger(redisDB.Client)
	consultHdlr := consultHandler.NewHandler(manager, sessionRepo, noteRepo, messageRepo, artifactStore, auditLogger)
	pushHdlr := pushHandler.NewHandler(pushSvc, auditLogger)
	signalingHub := wsHandler.NewSignalingHub(bus, appMetrics)

	// 13. Router
	router := gin.New()

	trustedProxies := []string{}
	if os.Getenv("ENV") == "production" {
		trustedProxies = []string{
			"https://api.healthnexus.com",
			"https://*.healthnexus.com",
		}
	} else {
		trustedProxies = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":         "healthy",
			"service":        "consult-service",
			"active_calls":   manager.ActiveCount(),
			"redis_degraded": redisDB.IsDegraded(),
			"time":           time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler())

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		consults := v1.Group("/consults")
		{
			consults.POST("", consultHdlr.StartCall)
			consults.GET("", consultHdlr.GetCallHistory)
			consults.GET("/:id", consultHdlr.GetSession)
			consults.POST("/:id/end", consultHdlr.EndCall)

			consults.POST("/:id/video/toggle", consultHdlr.ToggleVideo)
			consults.POST("/:id/audio/toggle", consultHdlr.ToggleAudio)
			consults.POST("/:id/screen-share/toggle", consultHdlr.ToggleScreenShare)

			consults.POST("/:id/messages", consultHdlr.SendMessage)
			consults.GET("/:id/messages", consultHdlr.ListMessages)

			consults.POST("/:id/notes", consultHdlr.CreateNote)
			consults.GET("/:id/notes", consultHdlr.ListNotes)
			consults.GET("/:id/transcript", consultHdlr.GetTranscript)
			consults.POST("/:id/transcription/start", consultHdlr.StartTranscription)
			consults.POST("/:id/transcription/stop", consultHdlr.StopTranscription)

			consults.GET("/:id/participants", consultHdlr.GetParticipants)

			consults.POST("/:id/recording/start", consultHdlr.StartRecording)
			consults.GET("/:id/recordings", consultHdlr.ListRecordings)
			consults.PUT("/:id/recordings/:recordingID/media", consultHdlr.UploadRecording)

			consults.POST("/:id/screenshots", consultHdlr.TakeScreenshot)
			consults.GET("/:id/screenshots", consultHdlr.ListScreenshots)
			consults.DELETE("/:id/screenshots/:screenshotID", consultHdlr.DeleteScreenshot)
		}

		pushTokens := v1.Group("/push/tokens")
		{
			pushTokens.POST("", pushHdlr.RegisterToken)
			pushTokens.DELETE("", pushHdlr.UnregisterToken)
			pushTokens.DELETE("/all", pushHdlr.UnregisterAllTokens)
		}

		v1.GET("/ws/signaling", signalingHub.ServeWS)
	}

	// 14. Start server
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Consult service starting",
			zap.String("port", port),
			zap.String("signaling_endpoint", "/v1/ws/signaling"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 15. Graceful shutdown: stop accepting requests, then end live calls
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down consult service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	manager.Shutdown(shutdownCtx)
	engine.StopAll()

	logger.Info("Consult service exited")
}
