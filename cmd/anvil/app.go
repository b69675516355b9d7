package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/config"
	"github.com/haasonsaas/anvil/internal/embeddings"
	"github.com/haasonsaas/anvil/internal/gateway"
	"github.com/haasonsaas/anvil/internal/index"
	"github.com/haasonsaas/anvil/internal/observability"
	"github.com/haasonsaas/anvil/internal/patches"
	"github.com/haasonsaas/anvil/internal/preflight"
	"github.com/haasonsaas/anvil/internal/sessions"
	"github.com/haasonsaas/anvil/internal/taskqueue"
	"github.com/haasonsaas/anvil/internal/tools/files"
	"github.com/haasonsaas/anvil/internal/tools/patchops"
	"github.com/haasonsaas/anvil/internal/tools/search"
	"github.com/haasonsaas/anvil/internal/tools/shell"
	"github.com/haasonsaas/anvil/internal/tools/taskops"
	"github.com/haasonsaas/anvil/internal/tools/web"
	"github.com/haasonsaas/anvil/internal/workspace"
)

// app holds every wired component for one CLI invocation. Components that
// a command does not need stay nil: the gateway is only built when
// needGateway is set, and sessions only when enabled in the configuration.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics

	ws    *workspace.Workspace
	guard *workspace.ResourceGuard
	idx   *index.Index
	queue *taskqueue.Queue
	store *patches.Store

	sessions *sessions.Store
	gw       gateway.Gateway
	registry *agent.Registry
	executor *agent.Executor
	pf       *preflight.Preflight

	metricsSrv     *http.Server
	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error
}

// newApp loads configuration and wires logging, metrics, tracing, the
// workspace, the retrieval index, the task queue, the patch store, and
// (when requested) the LLM gateway with the full tool registry.
func newApp(ctx context.Context, cfgPath string, needGateway bool) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.logger = observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	a.metrics = observability.NewMetrics()

	if cfg.Metrics.Enabled {
		a.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux()}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error(ctx, "metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	if cfg.Tracing.Enabled {
		tracer, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
			Attributes:     cfg.Tracing.Attributes,
			EnableInsecure: cfg.Tracing.Insecure,
		})
		a.tracer = tracer
		a.tracerShutdown = shutdown
	}

	a.ws, err = workspace.New(workspace.Config{
		Root:        cfg.Workspace.Root,
		ProjectRoot: cfg.Workspace.ProjectRoot,
		DenyWrite:   cfg.Workspace.DenyWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	a.guard = workspace.NewResourceGuard(a.ws, workspace.GuardConfig{
		MaxBytes:      cfg.Workspace.MaxBytes,
		MinFreeMemory: cfg.Workspace.MinFreeMemory,
	})

	embedder, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	a.idx, err = index.Open(index.Config{
		Dir:          a.inWorkspace(cfg.Index.Dir),
		SourceRoot:   a.ws.Root(),
		MaxFileBytes: cfg.Index.MaxFileBytes,
		ChunkLines:   cfg.Index.ChunkLines,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		Include:      cfg.Index.Include,
		Exclude:      cfg.Index.Exclude,
		AutoHeal:     true,
	}, embedder, a.logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if a.idx.RebuildPending() {
		if err := a.idx.Rebuild(ctx); err != nil {
			a.logger.Warn(ctx, "index rebuild failed", "error", err)
		}
	}

	queueDir := cfg.Tasks.Dir
	if queueDir == "" {
		queueDir = a.inWorkspace("queue")
	}
	a.queue, err = taskqueue.OpenWithCheckpointDir(queueDir, cfg.Tasks.CheckpointDir, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}

	a.store, err = patches.NewStore(a.inWorkspace("patches"), a.logger)
	if err != nil {
		return nil, fmt.Errorf("open patch store: %w", err)
	}

	if cfg.Sessions.Enabled {
		a.sessions, err = sessions.Open(a.inWorkspace(cfg.Sessions.Path), a.logger)
		if err != nil {
			return nil, fmt.Errorf("open sessions: %w", err)
		}
	}

	if needGateway {
		a.gw, err = a.buildGateway()
		if err != nil {
			return nil, err
		}
		a.registry, err = a.buildRegistry()
		if err != nil {
			return nil, err
		}
		a.executor = agent.NewExecutor(a.registry, agent.ExecutorConfig{
			Timeout: cfg.Tools.Timeout,
		}, a.logger, a.metrics)
		a.pf = preflight.New(preflight.Config{
			Breaker: preflight.BreakerConfig{
				FingerprintThreshold: cfg.Preflight.FingerprintThreshold,
				IntentThreshold:      cfg.Preflight.IntentThreshold,
			},
			DisableOverride: cfg.Preflight.DisableOverride,
		}, a.logger, a.metrics)
	}

	return a, nil
}

// Close flushes the index and releases long-lived resources. Safe on a
// partially constructed app.
func (a *app) Close(ctx context.Context) {
	if a.idx != nil {
		if err := a.idx.Save(); err != nil {
			a.logger.Warn(ctx, "index save failed", "error", err)
		}
	}
	if a.sessions != nil {
		_ = a.sessions.Close()
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if a.tracerShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.tracerShutdown(shutdownCtx)
		cancel()
	}
}

// inWorkspace resolves a configured path against the workspace root unless
// it is already absolute.
func (a *app) inWorkspace(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.ws.Root(), path)
}

// newLoop assembles an agent loop around the wired components. An empty
// model uses the gateway's configured default.
func (a *app) newLoop(tracer *agent.Tracer, model string) *agent.Loop {
	judge := a.cfg.Loop.Judge
	return agent.NewLoop(a.gw, a.registry, a.executor, a.pf, a.queue, a.sink(), tracer,
		agent.LoopOptions{
			SystemPrompt: a.cfg.LLM.SystemPrompt,
			Model:        model,
			MaxTokens:    a.cfg.LLM.MaxTokens,
			DisableJudge: judge != nil && !*judge,
			Spans:        a.tracer,
		}, a.logger, a.metrics)
}

// newConversation builds a conversation with the configured budgets and
// starting mode.
func (a *app) newConversation(id string) *agent.Conversation {
	conv := agent.NewConversation(id, a.cfg.Loop.MaxSteps, a.cfg.Loop.MaxToolCallsPerStep)
	if a.cfg.Loop.Mode == config.ModePlanner {
		conv.Exec.SetMode(agent.ModePlanner)
	}
	return conv
}

// sink adapts the optional session store to the loop's MessageSink. A nil
// *sessions.Store must become a nil interface, not a typed nil.
func (a *app) sink() agent.MessageSink {
	if a.sessions == nil {
		return nil
	}
	return a.sessions
}

func (a *app) buildGateway() (gateway.Gateway, error) {
	provider := a.cfg.LLM.DefaultProvider
	pcfg := a.cfg.LLM.Providers[provider]
	switch provider {
	case config.ProviderAnthropic:
		return gateway.NewAnthropic(gateway.AnthropicConfig{
			APIKey:     orEnv(pcfg.APIKey, "ANTHROPIC_API_KEY"),
			BaseURL:    pcfg.BaseURL,
			Model:      pcfg.Model,
			MaxRetries: pcfg.MaxRetries,
		}, a.logger, a.metrics)
	case config.ProviderOpenAI:
		return gateway.NewOpenAI(gateway.OpenAIConfig{
			APIKey:     orEnv(pcfg.APIKey, "OPENAI_API_KEY"),
			BaseURL:    pcfg.BaseURL,
			Model:      pcfg.Model,
			MaxRetries: pcfg.MaxRetries,
		}, a.logger, a.metrics)
	default:
		return nil, fmt.Errorf("%w: %q", gateway.ErrNoProvider, provider)
	}
}

// buildRegistry registers every enabled tool. File, search, task, and
// patch tools are always on; shell and web execution are opt-in.
func (a *app) buildRegistry() (*agent.Registry, error) {
	fileCfg := files.Config{
		Workspace: a.ws,
		Guard:     a.guard,
		MaxRead:   a.cfg.Tools.MaxOutputBytes,
	}
	reg := agent.NewRegistry()
	toolset := []agent.Tool{
		files.NewReadFile(fileCfg),
		files.NewWriteFile(fileCfg),
		files.NewListDir(fileCfg),
		files.NewCreateDirs(fileCfg),
		files.NewReadProjectFile(fileCfg),
		search.NewSearchCode(a.idx),
		search.NewSemanticSearch(a.idx),
		taskops.NewAddTask(a.queue),
		taskops.NewSaveCheckpoint(a.queue),
		patchops.NewProposePatch(a.store),
	}
	if a.cfg.Tools.Shell.Enabled {
		toolset = append(toolset, shell.NewRunCommand(shell.Config{
			Workspace:       a.ws,
			Timeout:         a.cfg.Tools.Shell.Timeout,
			MaxOutput:       a.cfg.Tools.MaxOutputBytes,
			AllowedPrefixes: a.cfg.Tools.Shell.AllowedPrefixes,
		}))
	}
	if a.cfg.Tools.Web.Enabled {
		toolset = append(toolset, web.NewHTTPFetch(web.Config{
			MaxBytes: int(a.cfg.Tools.Web.MaxBodyBytes),
			Timeout:  a.cfg.Tools.Web.Timeout,
		}))
	}
	for _, t := range toolset {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return reg, nil
}

// loadConfig reads the file at path, falling back to built-in defaults
// when the default config file simply does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func orEnv(value, envKey string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envKey)
}
