package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-versioning/pkg/versioning/api"
	"github.com/tendant/simple-versioning/pkg/versioning/config"
)

type authConfig struct {
	ApiKeySHA256   string `env:"API_KEY_SHA256" env-description:"SHA-256 of the accepted API key; empty disables auth"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" env-default:"33554432" env-description:"Largest accepted request body"`
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		os.Stdout.WriteString(config.EnvUsage())
		return
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	var auth authConfig
	if err := cleanenv.ReadEnv(&auth); err != nil {
		slog.Error("Failed to read auth configuration", "err", err)
		os.Exit(1)
	}

	rt, err := cfg.Build(context.Background())
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("Failed to release resources", "err", err)
		}
	}()

	slog.Info("Versioned file service configured",
		"environment", cfg.Environment,
		"database", cfg.DatabaseType,
		"storage", cfg.Storage.Type,
		"base_path", cfg.BasePath)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	filesHandler := api.NewFilesHandler(rt.Service, auth.MaxUploadBytes)

	if auth.ApiKeySHA256 == "" {
		server.R.Mount("/api/v1/files", filesHandler.Routes())
	} else {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": auth.ApiKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			return
		}
		server.R.Route("/api/v1", func(r chi.Router) {
			r.Use(apiKeyMiddleware)
			r.Mount("/files", filesHandler.Routes())
		})
	}

	server.Run()
}
