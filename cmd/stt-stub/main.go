package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/backendstub"
)

const (
	serviceName    = "stt-stub"
	serviceVersion = "1.0.0"
)

func main() {
	// Missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	port := envOr("PORT", "5000")

	addr := flag.String("addr", ":"+port, "Listen address")
	driver := flag.String("db-driver", envOr("DB_DRIVER", backendstub.DriverSQLite), "Database driver: sqlite or postgres")
	dsn := flag.String("db", envOr("DATABASE_URL", "data/stt-stub.db"), "SQLite file path or PostgreSQL URL")
	secret := flag.String("jwt-secret", envOr("JWT_SECRET", "supersecretkey"), "HS256 token signing secret")
	openAIKey := flag.String("openai-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key for real transcription")
	openAIBaseURL := flag.String("openai-base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible API base URL")
	openAIModel := flag.String("openai-model", envOr("OPENAI_MODEL", ""), "Speech-to-text model")
	language := flag.String("language", os.Getenv("STT_LANGUAGE"), "Spoken language hint (ISO-639-1)")
	mockAll := flag.Bool("mock-all", false, "Answer every upload with the mock transcript")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("db_driver", *driver),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := backendstub.OpenStore(ctx, *driver, *dsn)
	if err != nil {
		logger.Error("Failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	var engine backendstub.Engine
	if *openAIKey != "" {
		e, err := backendstub.NewOpenAIEngine(backendstub.OpenAIConfig{
			APIKey:   *openAIKey,
			BaseURL:  *openAIBaseURL,
			Model:    *openAIModel,
			Language: *language,
		})
		if err != nil {
			logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
			os.Exit(1)
		}
		engine = e
	} else if !*mockAll {
		logger.Warn("No OPENAI_API_KEY set; only test.* and mock* uploads will be transcribed")
	}

	srv := backendstub.NewServer(backendstub.Config{
		Address:   *addr,
		JWTSecret: *secret,
		MockAll:   *mockAll,
	}, store, engine, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", slog.String("error", err.Error()))
		store.Close()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		fmt.Fprintf(os.Stderr, "Unknown log level %q, using info\n", s)
		return slog.LevelInfo
	}
	return level
}
