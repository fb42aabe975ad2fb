package session

import (
	"context"
	"fmt"

	sessionhttp "session-registry/internal/session/adapter/http"
	"session-registry/internal/session/adapter/persistence/memory"
	"session-registry/internal/session/adapter/security"
	"session-registry/internal/session/config"
	"session-registry/internal/session/domain/repository"
	"session-registry/internal/session/usecase"
	"session-registry/internal/shared/clock"
	"session-registry/internal/shared/eventbus"
	"session-registry/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
)

// SessionModule represents the complete session registry module
type SessionModule struct {
	config     *config.Config
	repository repository.SessionRepository
	tokenSvc   repository.TokenService
	store      *usecase.SessionStore
	resolver   *usecase.Resolver
	sweeper    *usecase.Sweeper
	middleware *sessionhttp.SessionMiddleware
	handler    *sessionhttp.SessionHTTPHandler
	logger     logger.Logger
}

type moduleOptions struct {
	repo   repository.SessionRepository
	events eventbus.Publisher
	clock  clock.Clock
	logger logger.Logger
}

// ModuleOption customizes NewSessionModule.
type ModuleOption func(*moduleOptions)

// WithRepository backs the module with repo. Without it the module is memory-only.
func WithRepository(repo repository.SessionRepository) ModuleOption {
	return func(o *moduleOptions) { o.repo = repo }
}

// WithEventBus publishes session lifecycle events to bus.
func WithEventBus(bus eventbus.Publisher) ModuleOption {
	return func(o *moduleOptions) { o.events = bus }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) ModuleOption {
	return func(o *moduleOptions) { o.clock = c }
}

// WithLogger sets the module logger.
func WithLogger(l logger.Logger) ModuleOption {
	return func(o *moduleOptions) { o.logger = l }
}

// NewSessionModule creates a new session module instance
func NewSessionModule(cfg *config.Config, opts ...ModuleOption) (*SessionModule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}

	o := &moduleOptions{clock: clock.RealClock{}, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	// Initialize token service
	tokenSvc, err := security.NewJWTokenService(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	storeOpts := []usecase.StoreOption{
		usecase.WithClock(o.clock),
		usecase.WithLogger(o.logger),
	}
	if o.repo != nil {
		storeOpts = append(storeOpts, usecase.WithRepository(o.repo))
	}
	if o.events != nil {
		storeOpts = append(storeOpts, usecase.WithEvents(o.events))
	}

	store := usecase.NewSessionStore(memory.NewCache(), tokenSvc, cfg, storeOpts...)
	resolver := usecase.NewResolver(store, tokenSvc, o.clock, o.logger)
	sweeper := usecase.NewSweeper(store, o.clock, o.logger, cfg.SweepSchedule)

	middleware := sessionhttp.NewSessionMiddleware(resolver, cfg.TokenHeaderName, cfg.ReqAttribute)
	handler := sessionhttp.NewSessionHTTPHandler(store, sweeper, middleware, cfg.TokenHeaderName, o.logger)

	return &SessionModule{
		config:     cfg,
		repository: o.repo,
		tokenSvc:   tokenSvc,
		store:      store,
		resolver:   resolver,
		sweeper:    sweeper,
		middleware: middleware,
		handler:    handler,
		logger:     o.logger.WithComponent("session-module"),
	}, nil
}

// Start loads the backing store, if any, and schedules the sweeper. A backing
// store that fails to load is logged and the module continues memory-only.
func (sm *SessionModule) Start(ctx context.Context) error {
	if sm.store.Persistent() {
		if err := sm.store.Start(ctx); err != nil {
			sm.logger.Warnf("Session persistence disabled: %v", err)
		}
	}

	if err := sm.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	sm.logger.Infof("Session module started (persistent=%t, multi=%t)", sm.store.Persistent(), sm.config.Multi)
	return nil
}

// RegisterRoutes registers the token holder routes under /sessions. The
// decode middleware from GetMiddleware must be installed on the app first.
func (sm *SessionModule) RegisterRoutes(router fiber.Router) {
	sm.handler.SetupRoutes(router.Group("/sessions"))
}

// RegisterAdminRoutes registers session issuing and management under
// /admin/sessions, guarded by adminToken.
func (sm *SessionModule) RegisterAdminRoutes(router fiber.Router, adminToken string) error {
	if adminToken == "" {
		return fmt.Errorf("admin token is required to expose session management routes")
	}
	sm.handler.SetupAdminRoutes(router.Group("/admin/sessions"), adminToken)
	return nil
}

// GetMiddleware returns the session middleware
func (sm *SessionModule) GetMiddleware() *sessionhttp.SessionMiddleware {
	return sm.middleware
}

// GetStore returns the session store for external access
func (sm *SessionModule) GetStore() usecase.SessionStoreInterface {
	return sm.store
}

// GetResolver returns the token resolver
func (sm *SessionModule) GetResolver() *usecase.Resolver {
	return sm.resolver
}

// GetSweeper returns the expiration sweeper
func (sm *SessionModule) GetSweeper() *usecase.Sweeper {
	return sm.sweeper
}

// Persistent reports whether the module writes through to a backing store.
func (sm *SessionModule) Persistent() bool {
	return sm.store.Persistent()
}

// HealthCheck pings the backing store when the module is persistent.
func (sm *SessionModule) HealthCheck(ctx context.Context) error {
	if sm.repository == nil || !sm.store.Persistent() {
		return nil
	}
	if err := sm.repository.Ping(ctx); err != nil {
		return fmt.Errorf("session backing store unreachable: %w", err)
	}
	return nil
}

// Stop cancels the sweep schedule, waiting for a running sweep up to ctx.
func (sm *SessionModule) Stop(ctx context.Context) error {
	sm.sweeper.Stop(ctx)
	return nil
}
