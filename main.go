package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/JillVernus/chat-relay/internal/cache"
	"github.com/JillVernus/chat-relay/internal/config"
	"github.com/JillVernus/chat-relay/internal/database"
	"github.com/JillVernus/chat-relay/internal/emitter"
	"github.com/JillVernus/chat-relay/internal/guardrail"
	"github.com/JillVernus/chat-relay/internal/handlers"
	"github.com/JillVernus/chat-relay/internal/logger"
	"github.com/JillVernus/chat-relay/internal/meter"
	"github.com/JillVernus/chat-relay/internal/middleware"
	"github.com/JillVernus/chat-relay/internal/model"
	"github.com/JillVernus/chat-relay/internal/pubsub"
	"github.com/JillVernus/chat-relay/internal/relay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables and defaults")
	}

	envCfg := config.NewEnvConfig()

	if envCfg.AccessKey == "" {
		log.Fatal("🚨 RELAY_ACCESS_KEY must be set")
	}
	if len(envCfg.AccessKey) < 16 {
		log.Fatal("🚨 RELAY_ACCESS_KEY must be at least 16 characters, got ", len(envCfg.AccessKey))
	}
	if envCfg.JWTSecret == "" {
		log.Fatal("🚨 JWT_SECRET must be set")
	}

	if err := logger.Setup(&logger.Config{
		LogDir:     envCfg.LogDir,
		LogFile:    envCfg.LogFile,
		MaxSize:    envCfg.LogMaxSize,
		MaxBackups: envCfg.LogMaxBackups,
		MaxAge:     envCfg.LogMaxAge,
		Compress:   envCfg.LogCompress,
		Console:    envCfg.LogToConsole,
	}); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	db, err := database.New(database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	windows := meter.DefaultWindows(envCfg)
	quotaMeter := meter.New(db, windows)
	quotaMeter.StartJanitor(ctx, 10*time.Minute)
	log.Printf("✅ Quota meter ready with %d windows", len(windows))

	reconciler := meter.NewReconciler(quotaMeter)
	go reconciler.Run(ctx)

	responseCache := cache.New(db, envCfg.CacheTTL)
	log.Printf("✅ Response cache ready (TTL %s)", envCfg.CacheTTL)

	moderator, err := guardrail.NewKeywordModerator(envCfg.GuardrailConfigPath)
	if err != nil {
		log.Fatalf("Failed to initialize guardrail: %v", err)
	}
	defer moderator.Close()
	gate := guardrail.NewGate(moderator)

	broadcaster := pubsub.NewBroadcaster()
	recorder := emitter.New(db, nil, broadcaster)

	client := model.NewHTTPClient(envCfg.ModelEndpoint, envCfg.ModelAPIKey, envCfg.SafetyFilterID, envCfg.UpstreamTimeout)

	reservationTokens := int64(envCfg.ReservationFraction * float64(envCfg.DailyOutputLimit))
	chatRelay := relay.New(quotaMeter, reconciler, responseCache, gate, client, broadcaster, recorder, relay.Options{
		ReservationTTL:    envCfg.ReservationTTL,
		ReservationTokens: reservationTokens,
	})
	log.Printf("✅ Relay ready (reserving %d output tokens per request)", reservationTokens)

	if envCfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if envCfg.EnableCORS {
		router.Use(middleware.CORSMiddleware(envCfg))
	}

	router.GET("/health", handlers.HealthCheck(db))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat", middleware.AccessKeyMiddleware(envCfg), handlers.Chat(chatRelay, envCfg))
		v1.GET("/subscribe/:userID", middleware.ChannelAuthMiddleware(envCfg), handlers.Subscribe(broadcaster))
		v1.GET("/usage/:userID", middleware.ChannelAuthMiddleware(envCfg), handlers.Usage(quotaMeter))
		v1.GET("/completions/:userID", middleware.ChannelAuthMiddleware(envCfg), handlers.Completions(recorder))
	}

	addr := fmt.Sprintf(":%d", envCfg.Port)
	log.Printf("🚀 chat-relay listening on %s (%s)", addr, envCfg.Env)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
