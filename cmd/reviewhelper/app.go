package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rajeevc5260/Code-Review-Helper/internal/agent"
	"github.com/rajeevc5260/Code-Review-Helper/internal/config"
	"github.com/rajeevc5260/Code-Review-Helper/internal/connwatch"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/search"
	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
	"github.com/rajeevc5260/Code-Review-Helper/internal/tools"
	"github.com/rajeevc5260/Code-Review-Helper/internal/usage"
)

// Database file names inside the data directory.
const (
	dbFile    = "reviewhelper.db"
	usageFile = "usage.db"
)

// app is the wired component graph shared by serve, ask and import.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	store    *memory.SQLiteStore
	usage    *usage.Store
	gateway  *storage.AFSGateway
	llm      llm.Client
	search   search.Provider // nil when no backend is configured
	registry *tools.Registry
	reviewer *agent.Orchestrator
	analyzer *agent.Analyzer
}

// newApp opens the store and builds every component from cfg. The
// caller must Close the result.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := memory.NewSQLiteStore(filepath.Join(cfg.DataDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, usageFile))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    events.New(),
		store:  store,
		usage:  ledger,
	}
	a.gateway = storage.NewAFSGateway(nil, cfg.Storage.BaseURL, cfg.Storage.PublicURL, cfg.Storage.LinkSecret, logger)
	a.llm = createLLMClient(cfg, logger)

	if cfg.Search.Configured() {
		mgr := search.NewManager("http")
		mgr.Register(search.NewHTTPProvider(cfg.Search.URL, cfg.Search.APIKey, logger))
		a.search = mgr
		logger.Info("content search enabled", "url", cfg.Search.URL)
	} else {
		logger.Info("content search disabled (not configured)")
	}

	a.registry = tools.NewRegistry(tools.Deps{
		Gateway:      a.gateway,
		LLM:          a.llm,
		Model:        cfg.LLM.Default,
		Search:       a.search,
		ReadMaxBytes: cfg.Agent.ReadMaxBytes,
		Logger:       logger,
	})
	logger.Info("tools registered", "tools", a.registry.Names())

	a.reviewer = agent.NewOrchestrator(agent.Deps{
		LLM:    a.llm,
		Tools:  a.registry,
		Store:  store,
		Bus:    a.bus,
		Logger: logger,
	}, agent.Config{
		Model:          cfg.LLM.Default,
		MaxRounds:      cfg.Agent.MaxRounds,
		HistoryWindow:  cfg.Agent.HistoryWindow,
		KeepAlive:      cfg.Agent.KeepaliveInterval,
		RequestTimeout: cfg.Agent.RequestTimeout,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
	})

	if a.search != nil {
		a.analyzer = agent.NewAnalyzer(agent.AnalyzerDeps{
			LLM:    a.llm,
			Search: a.search,
			Store:  store,
			Bus:    a.bus,
			Logger: logger,
		}, agent.AnalyzerConfig{
			Model:          cfg.LLM.Default,
			MaxSnippets:    cfg.Analyzer.MaxSnippets,
			RequestTimeout: cfg.Agent.RequestTimeout,
			KeepAlive:      cfg.Agent.KeepaliveInterval,
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
		})
	}
	return a, nil
}

// recordUsage writes every finished run to the usage ledger until ctx
// is cancelled. The returned wait blocks until pending records are
// written.
func (a *app) recordUsage(ctx context.Context) (wait func()) {
	return usage.NewRecorder(a.usage, a.cfg, a.logger).Start(ctx, a.bus)
}

// watchBackends starts reachability probes of the LLM provider and file
// storage. The watchers stop when ctx is cancelled.
func (a *app) watchBackends(ctx context.Context) *connwatch.Manager {
	mgr := connwatch.NewManager(a.bus, a.logger)
	backoff := connwatch.DefaultBackoffConfig()
	backoff.PollInterval = a.cfg.Health.PollInterval
	backoff.ProbeTimeout = a.cfg.Health.ProbeTimeout

	mgr.Watch(ctx, connwatch.WatcherConfig{Name: "llm", Probe: a.llm.Ping, Backoff: backoff})
	mgr.Watch(ctx, connwatch.WatcherConfig{Name: "storage", Probe: a.gateway.Ping, Backoff: backoff})
	return mgr
}

// Close releases the conversation store and the usage ledger.
func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.usage.Close())
}

// createLLMClient builds a multi-provider LLM client from the configuration.
// Each model listed in config is mapped to its provider. Models not
// explicitly mapped are routed by name: claude* to Anthropic, everything
// else to Ollama, which also acts as the fallback backend.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaClient := llm.NewOllamaClient(cfg.LLM.OllamaURL, logger)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.LLM.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.LLM.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}

	for _, m := range cfg.LLM.Models {
		multi.AddModel(m.Name, m.Provider)
	}
	if cfg.ProviderFor(cfg.LLM.Default) == "anthropic" {
		multi.AddModel(cfg.LLM.Default, "anthropic")
	}
	logger.Info("LLM client initialized", "default_model", cfg.LLM.Default, "default_provider", cfg.ProviderFor(cfg.LLM.Default))
	return multi
}
