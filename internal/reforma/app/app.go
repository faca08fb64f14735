// Package app assembles the service: database, catalog, NLP provider,
// dialogue router, commit client and Matrix transport.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/common/trace"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/cache"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/catalog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/chat"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/commit"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/dialog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/nlp"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/store"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/validate"
)

// InternalErrorMessage is the best-effort reply when a turn fails in a way
// the router could not translate into something more specific.
const InternalErrorMessage = "⚠️ Algo salió mal procesando tu mensaje. Intentá de nuevo en un momento."

// Config holds application configuration.
type Config struct {
	DatabasePath string
	Matrix       chat.Config

	// NLP is the completion-service configuration. An empty APIKey is
	// rejected at startup: the service cannot interpret messages without it.
	NLP nlp.Config

	// NLPRateLimit is the maximum number of completion calls per sender per
	// minute. Defaults to nlp.DefaultRateLimit when zero.
	NLPRateLimit int

	// APIBaseURL and APIToken configure the REST client that commits
	// confirmed records. When APIBaseURL is empty the commit step fails,
	// so it is validated at startup.
	APIBaseURL string
	APIToken   string

	// Executor overrides the REST commit client when non-nil. Used by
	// integration tests.
	Executor commit.Executor

	// FreshnessWindow bounds how old an open Interaction may be and still be
	// resumed. Defaults to dialog.DefaultFreshnessWindow when zero.
	FreshnessWindow time.Duration

	// IntentThreshold is the minimum classifier confidence for a creation
	// kind. Defaults to dialog.DefaultIntentThreshold when zero.
	IntentThreshold float64

	// CatalogCacheTTL is the lifetime of cached catalog snapshots. Zero
	// disables the cache; correctness is identical either way.
	CatalogCacheTTL time.Duration

	// Normalize holds the normalization tunables (canonical formula total,
	// batches plausibility ceiling). Zero fields use the defaults.
	Normalize normalize.Config
}

// App is the assembled service.
type App struct {
	config    *Config
	store     *store.Store
	matrix    *chat.Client
	messenger *chat.Messenger
	router    *dialog.Router
}

// New wires the application from its configuration.
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Inject the DB so the Matrix client persists the sync token across
	// restarts.
	matrixCfg := config.Matrix
	matrixCfg.DB = st.DB()
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := chat.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	var catalogCache *cache.Cache
	if config.CatalogCacheTTL > 0 {
		catalogCache = cache.New(config.CatalogCacheTTL)
		slog.Info("catalog cache enabled", "ttl", config.CatalogCacheTTL)
	} else {
		catalogCache = cache.Disabled()
		slog.Info("catalog cache disabled; every read is authoritative")
	}
	catalogReader := catalog.NewReader(st.DB(), catalogCache)

	if config.NLP.APIKey == "" {
		st.Close()
		return nil, fmt.Errorf("NLP API key is required")
	}
	provider := nlp.New(config.NLP)
	limiter := nlp.NewRateLimiter(config.NLPRateLimit, time.Minute)
	slog.Info("completion provider ready", "model", config.NLP.Model)

	executor := config.Executor
	if executor == nil {
		if config.APIBaseURL == "" {
			st.Close()
			return nil, fmt.Errorf("API base URL is required")
		}
		executor = commit.NewRESTClient(config.APIBaseURL, config.APIToken)
		slog.Info("commit client ready", "base_url", config.APIBaseURL)
	}

	router := dialog.NewRouter(dialog.Deps{
		Log:          slog.Default(),
		DB:           st,
		Interactions: interaction.NewStore(st.DB()),
		Catalog:      catalogReader,
		Provider:     provider,
		Limiter:      limiter,
		Normalizer:   normalize.New(catalogReader, config.Normalize),
		Validator:    validate.New(catalogReader),
		Executor:     executor,
	}, dialog.Config{
		FreshnessWindow: config.FreshnessWindow,
		IntentThreshold: config.IntentThreshold,
	})

	return &App{
		config:    config,
		store:     st,
		matrix:    matrixClient,
		messenger: chat.NewMessenger(matrixClient, slog.Default()),
		router:    router,
	}, nil
}

// Run starts syncing and blocks until an interrupt signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("assistant is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()
	slog.Info("closing database")
	a.store.Close()
}

// handleMessage drives one dialogue turn and delivers the reply. The router
// never lets a stage-local error escape as a missing reply: an unexpected
// internal failure still gets the operator a generic message, unless the
// outbound channel itself is down.
func (a *App) handleMessage(ctx context.Context, roomID, sender, text string) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	// Show typing while the turn is processing; NLP calls take a while.
	if err := a.matrix.SetTyping(ctx, roomID, true, 30*time.Second); err != nil {
		slog.Debug("failed to set typing indicator", "err", err)
	}
	defer func() {
		if err := a.matrix.SetTyping(ctx, roomID, false, 0); err != nil {
			slog.Debug("failed to clear typing indicator", "err", err)
		}
	}()

	reply, err := a.router.HandleMessage(ctx, sender, text)
	if err != nil {
		slog.Error("turn failed",
			"trace_id", trace.FromContext(ctx), "sender", sender, "err", err)
		reply = InternalErrorMessage
	}
	if reply == "" {
		return
	}
	if err := a.messenger.Send(ctx, roomID, reply); err != nil {
		slog.Error("failed to send reply",
			"trace_id", trace.FromContext(ctx), "room", roomID, "err", err)
	}
}
