package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/motorctl/motor-bot/internal/bus"
	"github.com/motorctl/motor-bot/internal/config"
	"github.com/motorctl/motor-bot/internal/database"
	"github.com/motorctl/motor-bot/internal/handler"
	"github.com/motorctl/motor-bot/internal/middleware"
	"github.com/motorctl/motor-bot/internal/model"
	"github.com/motorctl/motor-bot/internal/pairing"
	"github.com/motorctl/motor-bot/internal/redis"
	"github.com/motorctl/motor-bot/internal/repository"
	"github.com/motorctl/motor-bot/internal/service"
	"github.com/motorctl/motor-bot/internal/util"
)

type publisher interface {
	bus.Publisher
	Close()
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	log.Info().
		Str("botToken", util.MaskToken(cfg.BotToken)).
		Str("broker", cfg.MQTTBrokerURL).
		Dur("pairingTimeout", cfg.PairingTimeout).
		Msg("config loaded")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database schema")
	}
	cancel()
	log.Info().Msg("database connected")

	ctx, cancel = context.WithTimeout(context.Background(), config.DBPingTimeout)
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	connector, pub := newBus(cfg)
	defer pub.Close()

	registry := bus.NewRegistry(connector, cfg.BusReconnectInterval)
	// Runs after the HTTP server and the bot have drained.
	defer registry.Close()

	userRepo := repository.NewUserRepository(db.DB)
	deviceRepo := repository.NewDeviceRepository(db.DB)

	userService := service.NewUserService(userRepo)
	deviceService := service.NewDeviceService(userRepo, deviceRepo, pub)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	coordinator := pairing.NewCoordinator(registry, pub, deviceService, cfg.PairingTimeout)

	ctx, cancel = context.WithTimeout(context.Background(), config.BusConnectTimeout)
	bot, err := handler.NewTelegramBot(ctx, cfg.BotToken)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to telegram")
	}
	botUsername := cfg.BotUsername
	if botUsername == "" {
		botUsername = bot.Username()
	}

	presenter := handler.NewPresenter(bot, userService, deviceService, coordinator, rateLimiter, handler.PresenterConfig{
		BotUsername:            botUsername,
		PairingRateLimitPerMin: cfg.PairingRateLimitPerMin,
		SessionTTL:             cfg.SessionTTL,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", handler.HealthHandler(db, registry))

	if cfg.APIToken != "" {
		authMiddleware := middleware.NewAuthMiddleware(cfg.APIToken)
		rateLimitMiddleware := middleware.NewRateLimitMiddleware(rateLimiter, cfg.APIRateLimitPerMin)
		deviceHandler := handler.NewDeviceHandler(deviceService, coordinator, rateLimiter, cfg.PairingRateLimitPerMin)

		r.Route("/v1", func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Use(rateLimitMiddleware.Handler)
			r.Use(middleware.BodyLimit(middleware.DefaultMaxBodySize))
			r.Mount("/", deviceHandler.Routes())
		})
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	botCtx, stopBot := context.WithCancel(context.Background())
	defer stopBot()

	if err := bot.SyncCommands(botCtx); err != nil {
		log.Warn().Err(err).Msg("failed to register bot commands")
	}
	go func() {
		if err := bot.Run(botCtx, presenter); err != nil {
			log.Fatal().Err(err).Msg("telegram bot error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	stopBot()
	bot.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// newBus returns the receive-side connector and the publisher. The memory
// bus stands in for real devices and accepts every pairing request.
func newBus(cfg *config.Config) (bus.Connector, publisher) {
	if cfg.UsesMemoryBus() {
		broker := bus.NewMemoryBroker()
		broker.Respond(bus.PairTopic("+"), acceptPairing)
		return broker, memoryPublisher{broker}
	}

	pub, err := bus.NewMQTTPublisher(cfg.MQTTBrokerURL, cfg.MQTTClientID, config.BusConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
	}
	return bus.NewMQTTConnector(cfg.MQTTBrokerURL, cfg.MQTTClientID, config.BusConnectTimeout), pub
}

type memoryPublisher struct {
	*bus.MemoryBroker
}

func (memoryPublisher) Close() {}

func acceptPairing(b *bus.MemoryBroker, msg bus.Message) {
	var req model.PairingRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Type != model.PairingTypeRequest {
		return
	}
	payload, _ := json.Marshal(model.PairingResponse{
		Type:      model.PairingTypeResponse,
		Status:    model.PairingStatusAccepted,
		RequestID: req.RequestID,
	})
	if err := b.Publish(context.Background(), msg.Topic, payload); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("simulated device failed to answer")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
