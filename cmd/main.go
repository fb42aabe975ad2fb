package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-registry/internal/di"
	"session-registry/internal/session/config"
	apperrors "session-registry/internal/shared/errors"
	"session-registry/internal/shared/eventbus"
	"session-registry/internal/shared/logger"

	"github.com/caarlos0/env/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" envDefault:"localhost"`
	Port         string        `env:"SERVER_PORT" envDefault:"3000"`
	AllowOrigins string        `env:"SERVER_CORS_ORIGINS" envDefault:"*"`
	CreateLimit  int           `env:"SERVER_CREATE_LIMIT" envDefault:"30"`
	CreateWindow time.Duration `env:"SERVER_CREATE_WINDOW" envDefault:"1m"`
	// AdminToken guards /admin/sessions. Unset leaves those routes unmounted.
	AdminToken   string        `env:"SERVER_ADMIN_TOKEN"`
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Session registry stopped: %v", err)
	}
}

func run() error {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	serverCfg := &ServerConfig{}
	if err := env.Parse(serverCfg); err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}

	appLogger := logger.NewFromEnv()

	sessionCfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load session configuration: %w", err)
	}
	if os.Getenv("SESSION_SECRET") == "" {
		appLogger.Warn("SESSION_SECRET not set, tokens will not survive a restart")
	}
	appLogger.Info("Application configuration loaded successfully")

	container := di.NewContainer(appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Errorf("Failed to close container: %v", err)
		}
	}()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := container.InitializeSession(startCtx, sessionCfg); err != nil {
		return fmt.Errorf("failed to initialize session module: %w", err)
	}
	appLogger.Info("Session module initialized successfully")

	if bus, err := di.GetService[*eventbus.EventBus](container); err == nil {
		audit := appLogger.WithComponent("session-audit")
		for _, eventType := range eventbus.SessionEventTypes {
			bus.Subscribe(eventType, func(ctx context.Context, e eventbus.Event) error {
				data, _ := e.Data().(eventbus.SessionEventData)
				audit.WithContext(ctx).WithFields(map[string]interface{}{
					"event":      e.Type(),
					"session_id": data.SessionID,
					"removed":    data.Removed,
				}).Debug("Session event")
				return nil
			})
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "Session Registry",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			appLogger.Errorf("HTTP Error: %v", err)
			return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
	})

	sessionModule := container.GetSessionModule()
	middleware := sessionModule.GetMiddleware()

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.PropagateRequestID())
	app.Use(middleware.CORS(serverCfg.AllowOrigins))
	app.Use(middleware.Decode())

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		if err := container.HealthCheck(healthCtx); err != nil {
			appLogger.Errorf("Health check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "UNHEALTHY",
				"error":   err.Error(),
				"message": "Session backing store is unreachable",
			})
		}

		return c.JSON(fiber.Map{
			"status":     "HEALTHY",
			"message":    "Session registry is running",
			"timestamp":  time.Now().UTC(),
			"persistent": sessionModule.Persistent(),
		})
	})

	sessionModule.RegisterRoutes(app)
	if serverCfg.AdminToken == "" {
		appLogger.Warn("SERVER_ADMIN_TOKEN not set, session management routes are disabled")
	} else {
		app.Post("/admin/sessions", middleware.RateLimiter(serverCfg.CreateLimit, serverCfg.CreateWindow))
		if err := sessionModule.RegisterAdminRoutes(app, serverCfg.AdminToken); err != nil {
			return err
		}
	}
	appLogger.Info("Session routes registered")

	serverAddr := fmt.Sprintf("%s:%s", serverCfg.Host, serverCfg.Port)
	appLogger.Infof("Starting HTTP server on %s", serverAddr)

	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case sig := <-quit:
		appLogger.Infof("Received shutdown signal: %v", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Errorf("Server forced to shutdown: %v", err)
		}
		appLogger.Info("HTTP server stopped")
	}
	return nil
}
