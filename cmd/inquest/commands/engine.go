package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inquest-dev/inquest/internal/agent"
	"github.com/inquest-dev/inquest/internal/audit"
	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/instance"
	"github.com/inquest-dev/inquest/internal/invoker"
	"github.com/inquest-dev/inquest/internal/lifecycle"
	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/metrics"
	"github.com/inquest-dev/inquest/internal/provider"
	"github.com/inquest-dev/inquest/internal/remote"
	"github.com/inquest-dev/inquest/internal/toolset"
	"github.com/inquest-dev/inquest/internal/tracing"
)

// engine bundles the long-lived pieces every subcommand needs: config,
// registry, remote connections, lifecycle, metrics, tracing.
type engine struct {
	cfg      *config.Config
	registry *toolset.Registry
	remotes  *remote.Manager
	manager  *lifecycle.Manager
	metrics  *metrics.Metrics
	tracer   *tracing.TracingProvider
	logger   *logging.Logger
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg, nil
}

// buildEngine loads configuration, merges the tool registry and starts
// the lifecycle-managed components. Callers must stop() it.
func buildEngine() (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	registry, err := toolset.Load(toolset.Sources{
		CatalogPaths:  cfg.Catalogs,
		RemoteServers: cfg.RemoteServers,
	}, Version)
	if err != nil {
		return nil, err
	}

	remotes := remote.NewManager(cfg.RemoteServers, registry)

	tracer, err := tracing.NewTracingProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	manager := lifecycle.NewManager()
	if err := manager.Register(tracer); err != nil {
		return nil, err
	}
	if err := manager.Register(remotes, tracer); err != nil {
		return nil, err
	}
	if err := manager.Start(context.Background()); err != nil {
		return nil, err
	}

	return &engine{
		cfg:      cfg,
		registry: registry,
		remotes:  remotes,
		manager:  manager,
		metrics:  metrics.NewMetrics(prometheus.DefaultRegisterer),
		tracer:   tracer,
		logger:   logging.GetLogger("engine"),
	}, nil
}

func (e *engine) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.manager.Stop(ctx); err != nil {
		e.logger.Warn("shutdown error: %v", err)
	}
}

// newSession wires a fresh session over the engine's shared state. The
// returned closer flushes the audit log.
func (e *engine) newSession(anthropicKey, model, fastModel, auditPath string) (*agent.Session, func(), error) {
	if model == "" {
		model = e.cfg.Model.Name
	}
	if model == "" {
		model = defaultModel
	}
	if fastModel == "" {
		fastModel = e.cfg.Model.FastName
	}

	primary, err := newProvider(anthropicKey, model, e.cfg.Model.MaxTokens)
	if err != nil {
		return nil, nil, err
	}

	var fast provider.Provider
	if fastModel != "" {
		fast, err = newProvider(anthropicKey, fastModel, e.cfg.Model.MaxTokens)
		if err != nil {
			return nil, nil, err
		}
	}

	sessionID := uuid.New().String()
	if auditPath == "" {
		auditPath = e.cfg.AuditLogPath
	}
	if auditPath == "" {
		auditPath = audit.DefaultPath(sessionID)
	}
	auditLog, err := audit.NewLogger(auditPath, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("audit log: %w", err)
	}

	session, err := agent.NewSession(agent.Deps{
		SessionID:        sessionID,
		Provider:         primary,
		Fast:             fast,
		Registry:         e.registry,
		Invoker:          invoker.New(e.remotes, time.Duration(e.cfg.Engine.ToolTimeoutSeconds)*time.Second),
		Remotes:          e.remotes,
		Resolver:         instance.NewResolver(e.cfg.Instances),
		Credentials:      instance.NewCredentialStore(instance.ConfigCredentialSource{}, 0),
		Audit:            auditLog,
		Metrics:          e.metrics,
		Tracer:           e.tracer.GetTracer("agent"),
		MaxSteps:         e.cfg.Engine.MaxSteps,
		MaxParallelTools: e.cfg.Engine.MaxParallelTools,
	})
	if err != nil {
		auditLog.Close()
		return nil, nil, err
	}

	closer := func() {
		if err := auditLog.Close(); err != nil {
			e.logger.Warn("closing audit log: %v", err)
		}
	}
	return session, closer, nil
}

// defaultModel is used when neither the flag nor the config names one.
const defaultModel = "claude-sonnet-4-5-20250929"

func newProvider(apiKey, model string, maxTokens int) (provider.Provider, error) {
	cfg := provider.Config{Model: model, MaxTokens: maxTokens}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		return provider.NewAnthropicProviderWithKey(apiKey, cfg)
	}
	return provider.NewAnthropicProvider(cfg)
}
