// Copyright 2026 The Bowline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bowlinehq/bowline/internal/audit"
	"github.com/bowlinehq/bowline/internal/config"
	"github.com/bowlinehq/bowline/internal/identity"
	"github.com/bowlinehq/bowline/internal/mcp"
	"github.com/bowlinehq/bowline/internal/oauth2"
	"github.com/bowlinehq/bowline/internal/observability/logger"
	"github.com/bowlinehq/bowline/internal/observability/tracing"
	"github.com/bowlinehq/bowline/internal/store/postgres"
	transportHTTP "github.com/bowlinehq/bowline/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting bowline")

	// CLI commands run with the same configuration and exit.
	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize database
	db, err := postgres.New(ctx, databaseConfig(cfg))
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	orgRepo := postgres.NewOrganizationRepository(db)
	membershipRepo := postgres.NewMembershipRepository(db)
	apiKeyRepo := postgres.NewAPIKeyRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewAuthorizationCodeRepository(db)
	tokenRepo := postgres.NewAccessTokenRepository(db)
	sourceRepo := postgres.NewDataSourceRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Auth.Argon2Memory,
		cfg.Auth.Argon2Iterations,
		cfg.Auth.Argon2Parallelism,
		cfg.Auth.Argon2SaltLength,
		cfg.Auth.Argon2KeyLength,
	)

	// Initialize services
	identityService := identity.NewService(
		userRepo,
		orgRepo,
		membershipRepo,
		apiKeyRepo,
		passwordHasher,
		auditLogger,
		cfg.Auth.JWTSecret,
		cfg.Auth.SessionTTL,
	)
	oauth2Service := oauth2.NewService(
		clientRepo,
		codeRepo,
		tokenRepo,
		userRepo,
		orgRepo,
		auditLogger,
		cfg.OAuth.AuthCodeTTL,
		cfg.OAuth.AccessTokenTTL,
		cfg.OAuth.RefreshTokenTTL,
	)

	// MCP tool registry
	queryExecutor := postgres.NewSourceQueryExecutor(0)
	registry := mcp.NewRegistry()
	registry.Register(mcp.NewListDataSourcesTool(sourceRepo))
	registry.Register(mcp.NewRunQueryTool(sourceRepo, queryExecutor))
	registry.Register(mcp.NewAnswerQuestionTool(sourceRepo))

	// Run bootstrap (ENV driven, no-op without BOOTSTRAP_ADMIN_EMAIL)
	bootstrapService := identity.NewBootstrapService(identityService)
	if err := bootstrapService.Bootstrap(ctx, identity.BootstrapConfig{
		AdminEmail:    cfg.Bootstrap.AdminEmail,
		AdminPassword: cfg.Bootstrap.AdminPassword,
		AdminName:     cfg.Bootstrap.AdminName,
		OrgName:       cfg.Bootstrap.OrgName,
	}); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
		os.Exit(1)
	}

	// Rate limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		identityService,
		oauth2Service,
		registry,
		auditLogger,
		transportHTTP.Config{
			BaseURL:           cfg.OAuth.BaseURL,
			SessionCookieName: cfg.Auth.SessionCookieName,
		},
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Sweep expired codes and token records. The grace window keeps dead
	// rows around for incident forensics before they are hard-deleted.
	go func() {
		ticker := time.NewTicker(cfg.Cleanup.Interval)
		defer ticker.Stop()
		for range ticker.C {
			sweepCtx, span := tracer.Start(ctx, "cleanup.sweep")
			cutoff := time.Now().UTC().Add(-cfg.Cleanup.Grace)

			if n, err := codeRepo.DeleteExpired(sweepCtx, cutoff); err != nil {
				slog.ErrorContext(sweepCtx, "failed to sweep authorization codes", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(sweepCtx, "swept authorization codes", logger.RowsAffected(n))
			}

			if n, err := tokenRepo.DeleteExpired(sweepCtx, cutoff); err != nil {
				slog.ErrorContext(sweepCtx, "failed to sweep token records", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(sweepCtx, "swept token records", logger.RowsAffected(n))
			}

			span.End()
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func databaseConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}
}

func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, databaseConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	orgRepo := postgres.NewOrganizationRepository(db)
	membershipRepo := postgres.NewMembershipRepository(db)
	apiKeyRepo := postgres.NewAPIKeyRepository(db)
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Auth.Argon2Memory,
		cfg.Auth.Argon2Iterations,
		cfg.Auth.Argon2Parallelism,
		cfg.Auth.Argon2SaltLength,
		cfg.Auth.Argon2KeyLength,
	)

	identityService := identity.NewService(
		userRepo,
		orgRepo,
		membershipRepo,
		apiKeyRepo,
		passwordHasher,
		auditLogger,
		cfg.Auth.JWTSecret,
		cfg.Auth.SessionTTL,
	)

	return identity.NewBootstrapService(identityService).Bootstrap(ctx, identity.BootstrapConfig{
		AdminEmail:    cfg.Bootstrap.AdminEmail,
		AdminPassword: cfg.Bootstrap.AdminPassword,
		AdminName:     cfg.Bootstrap.AdminName,
		OrgName:       cfg.Bootstrap.OrgName,
	})
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, databaseConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
