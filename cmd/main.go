package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/config"
	"github.com/Dosada05/quickplay-matchmaking/db"
	"github.com/Dosada05/quickplay-matchmaking/handlers"
	"github.com/Dosada05/quickplay-matchmaking/realtime"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
	api "github.com/Dosada05/quickplay-matchmaking/routes"
	"github.com/Dosada05/quickplay-matchmaking/services"
	"github.com/Dosada05/quickplay-matchmaking/storage"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.Int("lobby_capacity", cfg.LobbyCapacity),
		slog.Duration("ready_check_window", cfg.ReadyCheckWindow),
	)

	// Подключение к базе данных
	pool := db.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
	dbConn, err := db.Connect(cfg.DatabaseURL, pool, 5*time.Second, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Хранилище скриншотов (Cloudflare R2). Опционально.
	var uploader storage.FileUploader
	if cfg.R2Configured() {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2Bucket,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Warn("screenshot storage is not configured, screenshot uploads disabled")
	}

	// WebSocket Hub и (опционально) redis-мост между инстансами.
	wsHub := realtime.NewHub()
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	var publisher services.EventPublisher = wsHub
	if cfg.RedisURL != "" {
		bridge, err := realtime.NewRedisBridge(cfg.RedisURL, wsHub)
		if err != nil {
			logger.Error("failed to connect redis bridge", slog.Any("error", err))
			os.Exit(1)
		}
		defer bridge.Close()
		go bridge.Run(rootCtx)
		publisher = bridge
		logger.Info("redis event bridge started")
	}

	// Инициализация репозиториев
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	lobbyRepo := repositories.NewPostgresLobbyRepository(dbConn)
	participantRepo := repositories.NewPostgresLobbyParticipantRepository(dbConn)
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	txRunner := repositories.NewTxRunner(dbConn)
	logger.Info("repositories initialized")

	// Инициализация сервисов
	authService := services.NewAuthService(userRepo)
	lobbyService := services.NewLobbyService(txRunner, lobbyRepo, participantRepo, publisher, logger)
	matchmakingService := services.NewMatchmakingService(
		txRunner,
		lobbyRepo,
		participantRepo,
		lobbyService,
		cfg.LobbyCapacity,
		cfg.LobbyTTL,
		publisher,
		logger,
	)
	materializer := services.NewMaterializerService(
		txRunner,
		lobbyRepo,
		participantRepo,
		tournamentRepo,
		matchRepo,
		logger,
	)
	readyCheckService := services.NewReadyCheckService(
		txRunner,
		lobbyRepo,
		participantRepo,
		materializer,
		cfg.ReadyCheckWindow,
		cfg.LobbyTTL,
		publisher,
		logger,
	)
	matchService := services.NewMatchService(matchRepo, uploader)
	tournamentService := services.NewTournamentService(tournamentRepo, matchService)
	logger.Info("services initialized")

	// Серверный страховочный планировщик: добивает просроченные ready-check'и
	// и протухшие лобби, даже когда все их клиенты исчезли.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		logger.Info("lobby sweeper started", slog.Duration("interval", cfg.SweepInterval))

		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			if err := readyCheckService.SweepExpired(rootCtx); err != nil {
				logger.Error("sweeper: expired ready-check pass failed", slog.Any("error", err))
			}
			if err := readyCheckService.SweepStale(rootCtx); err != nil {
				logger.Error("sweeper: stale lobby pass failed", slog.Any("error", err))
			}
		}
	}()

	// Инициализация обработчиков HTTP
	authHandler := handlers.NewAuthHandler(authService, cfg.JWTSecretKey)
	matchmakingHandler := handlers.NewMatchmakingHandler(matchmakingService, lobbyService, readyCheckService)
	tournamentHandler := handlers.NewTournamentHandler(tournamentService)
	matchHandler := handlers.NewMatchHandler(matchService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		cfg.JWTSecretKey,
		authHandler,
		matchmakingHandler,
		tournamentHandler,
		matchHandler,
		webSocketHandler,
	)
	logger.Info("routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		} else {
			logger.Info("server stopped gracefully")
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stopRoot()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		} else {
			logger.Info("server shutdown complete")
		}
	}
	logger.Info("application exited")
}
