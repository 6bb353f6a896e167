// Command ractogw runs the gateway's HTTP transport: a thin chi server
// that resolves the caller, delegates to dispatch.Engine, and serializes
// the result. No pipeline logic lives here.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ractogw/gateway/access"
	"github.com/ractogw/gateway/auth"
	"github.com/ractogw/gateway/dispatch"
	"github.com/ractogw/gateway/internal/gatewayconfig"
	"github.com/ractogw/gateway/internal/logging"
	"github.com/ractogw/gateway/internal/version"
	"github.com/ractogw/gateway/policy"
	"github.com/ractogw/gateway/providers"
	"github.com/ractogw/gateway/storage"
	"github.com/ractogw/gateway/upstream"
)

func main() {
	cfg := gatewayconfig.Config{
		ListenAddr: ":8080",
		Storage:    gatewayconfig.StorageConfig{Dialect: gatewayconfig.DialectSQLite, DSN: "ractogw.db"},
		Auth:       gatewayconfig.StorageConfig{Dialect: gatewayconfig.DialectSQLite, DSN: "ractogw-tokens.db"},
		Log:        gatewayconfig.LogConfig{Level: "info", Format: "json"},
	}
	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		loaded, err := gatewayconfig.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if err := gatewayconfig.ValidateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := logging.Logger
	logger.Info("starting ractogw", "version", version.Short())

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SeedPolicies(context.Background(), policy.Seed()); err != nil {
		log.Fatalf("failed to seed policies: %v", err)
	}

	cat, accounts, err := gatewayconfig.BuildCatalogAndAccounts(cfg)
	if err != nil {
		log.Fatalf("failed to build catalog/accounts: %v", err)
	}
	accessControl := access.New(cat, accounts)

	registry, upstreamProviders := registerProviders()
	if len(registry.List()) == 0 {
		log.Fatal("no providers configured: set at least one provider API key (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...)")
	}

	engine := dispatch.New(accessControl, store, upstreamProviders)

	authStore, err := openAuthStore(cfg.Auth)
	if err != nil {
		log.Fatalf("failed to open auth store: %v", err)
	}
	if len(authStore.List()) == 0 {
		seedDemoTokens(authStore, logger)
	}

	healthMonitor := providers.NewProviderHealthMonitor(registry, 5, 1, 30*time.Second)
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	go healthMonitor.Run(monitorCtx, time.Minute)

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	r := newRouter(engine, registry, authStore, healthMonitor, corsOrigins)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
	}()

	logger.Info("ractogw listening", "addr", cfg.ListenAddr, "providers", registry.List())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("server error: %v", err)
	}
	logger.Info("server stopped")
}

func openStore(cfg gatewayconfig.StorageConfig) (*storage.Store, error) {
	if cfg.Dialect == gatewayconfig.DialectPostgres {
		return storage.OpenPostgres(cfg.DSN)
	}
	return storage.OpenSQLite(cfg.DSN)
}

// openAuthStore opens the persistent caller-token store, the same backend
// cmd/ractogw-admin's token subcommands operate on, so tokens issued out of
// band from a running server take effect without a restart.
func openAuthStore(cfg gatewayconfig.StorageConfig) (auth.Store, error) {
	if cfg.Dialect == gatewayconfig.DialectPostgres {
		return auth.NewPostgresStore(cfg.DSN)
	}
	return auth.NewSQLiteStore(cfg.DSN)
}

// seedDemoTokens issues one token per built-in demo account into a freshly
// created, empty token store. Each token gets a random secret that is not
// logged or printed; `ractogw-admin token list` shows it only masked.
func seedDemoTokens(store auth.Store, logger *slog.Logger) {
	for _, accountID := range []string{"demo-user", "ops-team", "guest"} {
		if _, err := store.Issue(accountID, accountID+"-default", nil); err != nil {
			logger.Warn("failed to seed demo token", "account_id", accountID, "error", err)
		}
	}
}

// registerProviders auto-registers every provider whose API key is present
// in the environment, matching the teacher's env-var discovery convention,
// and separately builds the narrow openai/anthropic upstream.Provider map
// that dispatch.Engine actually calls (§4.7 recognizes only those two
// provider tags; the rest populate the registry/listing only).
func registerProviders() (*providers.Registry, map[string]upstream.Provider) {
	registry := providers.NewRegistry()
	upstreamProviders := make(map[string]upstream.Provider)

	type providerEntry struct {
		envKey string
		name   string
		create func(key, baseURL string) (providers.Provider, error)
	}
	autoProviders := []providerEntry{
		{"OPENAI_API_KEY", "openai", func(k, b string) (providers.Provider, error) { return providers.NewOpenAI(k, b) }},
		{"ANTHROPIC_API_KEY", "anthropic", func(k, b string) (providers.Provider, error) { return providers.NewAnthropic(k, b) }},
		{"GROQ_API_KEY", "groq", func(k, b string) (providers.Provider, error) { return providers.NewGroq(k, b) }},
		{"TOGETHER_API_KEY", "together", func(k, b string) (providers.Provider, error) { return providers.NewTogether(k, b) }},
		{"GEMINI_API_KEY", "gemini", func(k, b string) (providers.Provider, error) { return providers.NewGemini(k, b) }},
		{"MISTRAL_API_KEY", "mistral", func(k, b string) (providers.Provider, error) { return providers.NewMistral(k, b) }},
		{"COHERE_API_KEY", "cohere", func(k, b string) (providers.Provider, error) { return providers.NewCohere(k, b) }},
		{"DEEPSEEK_API_KEY", "deepseek", func(k, b string) (providers.Provider, error) { return providers.NewDeepSeek(k, b) }},
		{"AI21_API_KEY", "ai21", func(k, b string) (providers.Provider, error) { return providers.NewAI21(k, b) }},
		{"FIREWORKS_API_KEY", "fireworks", func(k, b string) (providers.Provider, error) { return providers.NewFireworks(k, b) }},
		{"PERPLEXITY_API_KEY", "perplexity", func(k, b string) (providers.Provider, error) { return providers.NewPerplexity(k, b) }},
	}
	for _, pe := range autoProviders {
		key := os.Getenv(pe.envKey)
		if key == "" {
			continue
		}
		p, err := pe.create(key, "")
		if err != nil {
			log.Fatalf("%s provider: %v", pe.name, err)
		}
		registry.Register(p)
		switch op := p.(type) {
		case *providers.OpenAIProvider:
			upstreamProviders["openai"] = op
		case *providers.AnthropicProvider:
			upstreamProviders["anthropic"] = op
		}
	}

	if ollamaURL := os.Getenv("OLLAMA_HOST"); ollamaURL != "" {
		var models []string
		if m := os.Getenv("OLLAMA_MODELS"); m != "" {
			models = strings.Split(m, ",")
		}
		if p, err := providers.NewOllama(ollamaURL, models); err == nil {
			registry.Register(p)
		}
	}
	if apiToken := os.Getenv("REPLICATE_API_TOKEN"); apiToken != "" {
		var models []string
		if m := os.Getenv("REPLICATE_MODELS"); m != "" {
			models = strings.Split(m, ",")
		}
		if p, err := providers.NewReplicate(apiToken, "", models); err == nil {
			registry.Register(p)
		}
	}
	if region := os.Getenv("AWS_BEDROCK_REGION"); region != "" || os.Getenv("AWS_BEDROCK_ENABLED") == "true" {
		if p, err := providers.NewBedrock(region); err == nil {
			registry.Register(p)
		} else {
			log.Printf("bedrock provider: %v", err)
		}
	}
	if azureKey := os.Getenv("AZURE_OPENAI_API_KEY"); azureKey != "" {
		baseURL := os.Getenv("AZURE_OPENAI_BASE_URL")
		deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
		if p, err := providers.NewAzureOpenAI(azureKey, baseURL, deployment, apiVersion); err == nil {
			registry.Register(p)
		} else {
			log.Fatalf("azure_openai provider: %v", err)
		}
	}

	return registry, upstreamProviders
}

// newRouter builds the HTTP router.
func newRouter(engine *dispatch.Engine, registry *providers.Registry, authStore auth.Store, healthMonitor *providers.ProviderHealthMonitor, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/admin/providers/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, healthMonitor.Snapshot())
	})

	r.Get("/admin/providers/pricing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, providers.PricingTable)
	})

	r.Get("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]interface{}{"object": "list", "data": registry.AllModels()})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authStore))
		r.Post("/v1/chat", chatHandler(engine))
		r.Post("/v1/chat/stream", chatStreamHandler(engine))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
