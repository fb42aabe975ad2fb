package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"session-registry/internal/session"
	"session-registry/internal/session/adapter/persistence/mongodb"
	"session-registry/internal/session/adapter/persistence/redisstore"
	"session-registry/internal/session/config"
	"session-registry/internal/session/domain/repository"
	"session-registry/internal/shared/eventbus"
	"session-registry/internal/shared/logger"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container represents a dependency injection container with proper lifecycle management
type Container struct {
	mu       sync.RWMutex
	services map[reflect.Type]interface{}
	// Module instances
	SessionModule *session.SessionModule
	// Backing store connections, at most one is set
	MongoClient *mongo.Client
	RedisClient *redis.Client
	// Shared components
	EventBus *eventbus.EventBus
	Config   *config.Config
	Logger   logger.Logger
}

// NewContainer creates a new DI container
func NewContainer(log logger.Logger) *Container {
	if log == nil {
		log = logger.NewNop()
	}
	return &Container{
		services: make(map[reflect.Type]interface{}),
		Logger:   log,
	}
}

// InitializeSession connects the configured backing store, if any, and starts
// the session module. A backing store that cannot be reached or loaded is
// logged, its connection released, and the module runs memory-only.
func (c *Container) InitializeSession(ctx context.Context, cfg *config.Config) error {
	c.mu.Lock()
	if c.EventBus == nil {
		c.EventBus = eventbus.NewEventBus(c.Logger)
	}
	bus := c.EventBus
	c.Config = cfg
	c.mu.Unlock()

	opts := []session.ModuleOption{
		session.WithLogger(c.Logger),
		session.WithEventBus(bus),
	}

	if cfg.PersistenceEnabled() {
		repo, err := c.connect(ctx, cfg)
		if err != nil {
			c.Logger.Errorf("Session backing store unavailable, running memory-only: %v", err)
		} else {
			opts = append(opts, session.WithRepository(repo))
		}
	}

	module, err := session.NewSessionModule(cfg, opts...)
	if err != nil {
		c.releaseBackingStore(ctx)
		return fmt.Errorf("failed to create session module: %w", err)
	}
	if err := module.Start(ctx); err != nil {
		c.releaseBackingStore(ctx)
		return fmt.Errorf("failed to start session module: %w", err)
	}
	if !module.Persistent() {
		c.releaseBackingStore(ctx)
	}

	c.mu.Lock()
	c.SessionModule = module
	services := []interface{}{cfg, bus, module}
	if c.MongoClient != nil {
		services = append(services, c.MongoClient)
	}
	if c.RedisClient != nil {
		services = append(services, c.RedisClient)
	}
	c.mu.Unlock()

	for _, service := range services {
		if err := c.Register(service); err != nil {
			return err
		}
	}
	return nil
}

// releaseBackingStore closes a connection the session module is not using.
func (c *Container) releaseBackingStore(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.MongoClient == nil && c.RedisClient == nil {
		return
	}
	for _, err := range c.closeClients(ctx) {
		c.Logger.Warnf("Failed to release unused backing store connection: %v", err)
	}
	c.Logger.Info("Released unused backing store connection")
}

// closeClients disconnects every backing store client. Callers hold c.mu.
func (c *Container) closeClients(ctx context.Context) []error {
	var errs []error

	if c.MongoClient != nil {
		if err := c.MongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect MongoDB: %w", err))
		}
		delete(c.services, reflect.TypeOf(c.MongoClient).Elem())
		c.MongoClient = nil
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
		delete(c.services, reflect.TypeOf(c.RedisClient).Elem())
		c.RedisClient = nil
	}
	return errs
}

// connect opens the driver selected by the DB URL scheme.
func (c *Container) connect(ctx context.Context, cfg *config.Config) (repository.SessionRepository, error) {
	driver, err := cfg.Connection.Driver()
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Connection.ConnectTimeout)
	defer cancel()

	switch driver {
	case config.DriverMongo:
		client, err := mongodb.Connect(connectCtx, cfg.Connection.DBURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.MongoClient = client
		c.mu.Unlock()
		c.Logger.Info("MongoDB connection established successfully")
		return mongodb.NewMongoSessionRepository(client.Database(cfg.Connection.DBName), cfg.CollectionName), nil

	case config.DriverRedis:
		client, err := redisstore.Connect(connectCtx, cfg.Connection.DBURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.RedisClient = client
		c.mu.Unlock()
		c.Logger.Info("Redis connection established successfully")
		return redisstore.NewRedisSessionRepository(client, cfg.Connection.DBName, cfg.CollectionName), nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

// Register registers a service instance
func (c *Container) Register(service interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	serviceType := reflect.TypeOf(service)
	if serviceType == nil {
		return fmt.Errorf("cannot register nil service")
	}
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}

	c.services[serviceType] = service
	return nil
}

// Resolve resolves a service by type
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if serviceType != nil && serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}
	if service, exists := c.services[serviceType]; exists {
		return service, nil
	}
	return nil, fmt.Errorf("service of type %v not registered", serviceType)
}

// GetService is a generic helper for resolving services
func GetService[T any](c *Container) (T, error) {
	var zero T
	service, err := c.Resolve(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}

	if typedService, ok := service.(T); ok {
		return typedService, nil
	}
	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// GetSessionModule returns the session module instance
func (c *Container) GetSessionModule() *session.SessionModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionModule
}

// HealthCheck performs health check on all registered services
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.SessionModule != nil {
		if err := c.SessionModule.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup performs cleanup of registered services with proper shutdown order
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.SessionModule != nil {
		if err := c.SessionModule.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop session module: %w", err))
		}
		c.SessionModule = nil
	}

	if c.EventBus != nil {
		detached := 0
		for _, eventType := range eventbus.SessionEventTypes {
			detached += c.EventBus.GetSubscriberCount(eventType)
			c.EventBus.Unsubscribe(eventType)
		}
		if detached > 0 {
			c.Logger.Debugf("Detached %d session event subscribers", detached)
		}
	}

	errs = append(errs, c.closeClients(ctx)...)

	c.services = make(map[reflect.Type]interface{})

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// Close gracefully shuts down all services in the container with timeout
func (c *Container) Close() error {
	c.Logger.Info("Closing DI container resources...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warnf("Cleanup errors occurred: %v", err)
		return err
	}

	c.Logger.Info("DI container resources closed")
	return nil
}
