package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"farmlink/internal/storage"
	"farmlink/internal/store"
	"farmlink/pkg/domain"
)

// MessagePublisher fans newly appended messages out to the realtime layer.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg domain.Message) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Redis       *redis.Client
	SessionTTL  time.Duration
	JWTSecret   string

	Store     store.Store
	Sessions  store.SessionStore
	Publisher MessagePublisher
	Images    storage.ObjectStore
}

// App wires storage, sessions, and the realtime publisher behind the
// marketplace operations.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	publisher MessagePublisher
	images    storage.ObjectStore
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch {
		case cfg.JWTSecret != "":
			sessionStore = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
		case cfg.Redis != nil:
			sessionStore = store.NewRedisSessionStore(cfg.Redis, cfg.SessionTTL)
		default:
			return nil, fmt.Errorf("session store required (jwtSecret or redis)")
		}
	}

	return &App{
		store:     dataStore,
		sessions:  sessionStore,
		publisher: cfg.Publisher,
		images:    cfg.Images,
	}, nil
}

// Store exposes the data store for wiring.
func (a *App) Store() store.Store { return a.store }

// SetPublisher attaches the realtime publisher after construction. The hub
// needs the app for membership checks, so the two are wired in two steps.
func (a *App) SetPublisher(p MessagePublisher) { a.publisher = p }
