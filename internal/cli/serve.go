package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paulgibert/chaingpt/internal/adapter/llm"
	"github.com/paulgibert/chaingpt/internal/config"
	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/hub"
	"github.com/paulgibert/chaingpt/internal/policy"
	"github.com/paulgibert/chaingpt/internal/qa"
	"github.com/paulgibert/chaingpt/internal/repository"
	"github.com/paulgibert/chaingpt/internal/sandbox"
	"github.com/paulgibert/chaingpt/internal/service"
	"github.com/paulgibert/chaingpt/internal/session"
	"github.com/paulgibert/chaingpt/internal/tools"
	httpserver "github.com/paulgibert/chaingpt/internal/transport/http"
	v1 "github.com/paulgibert/chaingpt/internal/transport/http/v1"
	"github.com/paulgibert/chaingpt/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP tool service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.HTTPPort = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	return cmd
}

// newFileQAEngine builds the engine behind File QA. Its chunk size is fixed
// at qa.DefaultChunkSize; only parallelism and the model are configurable.
func newFileQAEngine(gen llm.Generator, cfg *config.Config, logger logrus.FieldLogger) *qa.Engine {
	return qa.NewEngine(gen, qa.Config{
		ChunkSize:    qa.DefaultChunkSize,
		ChunkOverlap: qa.DefaultChunkOverlap,
		MaxParallel:  cfg.QAMaxParallel,
		Model:        cfg.LLMModel,
	}, logger)
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg, nil)
	logger.WithFields(logrus.Fields{
		"port":           cfg.HTTPPort,
		"database":       cfg.DatabaseURL,
		"sandbox_driver": cfg.SandboxDriver,
		"llm_model":      cfg.LLMModel,
		"mock_llm":       cfg.MockLLM(),
	}).Info("starting chaingpt")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize sandbox
	env, err := sandbox.New(sandbox.Config{
		Driver:         cfg.SandboxDriver,
		Image:          cfg.SandboxImage,
		User:           cfg.SandboxUser,
		Timeout:        cfg.ScriptTimeout,
		InstallTimeout: cfg.InstallTimeout,
		MemoryBytes:    int64(cfg.SandboxMemoryMB) << 20,
		CPUs:           cfg.SandboxCPUs,
		PidsLimit:      int64(cfg.SandboxPidsLimit),
		MaxOutputBytes: cfg.SandboxMaxOutputBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sandbox: %w", err)
	}
	defer env.Close()

	// Initialize workspaces
	wsOpts := []workspace.Option{workspace.WithLogger(logger)}
	if cfg.GitHubPreflight {
		wsOpts = append(wsOpts, workspace.WithInspector(
			workspace.NewGitHubInspector(cfg.GitHubToken, &http.Client{Timeout: 15 * time.Second}),
		))
	}
	manager := workspace.NewManager(cfg.WorkspaceRoot, &workspace.GitCloner{
		GitBin: cfg.GitBinary,
		Token:  cfg.GitHubToken,
		Depth:  cfg.CloneDepth,
	}, wsOpts...)

	// Initialize model and QA engine
	client := llm.NewLLMClient(cfg.LLMMode, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	gen := llm.NewChatGenerator(client, cfg.LLMModel,
		llm.WithRetry(cfg.LLMMaxAttempts, cfg.LLMBackoff, time.Duration(cfg.LLMMaxAttempts)*cfg.LLMTimeout),
		llm.WithGeneratorLogger(logger),
	)
	engine := newFileQAEngine(gen, cfg, logger)

	// Initialize sessions and service
	eventHub := hub.NewHub(logger)
	var svc *service.Service
	registry := session.NewRegistry(manager,
		session.WithTTL(cfg.SessionTTL),
		session.WithLogger(logger),
		session.OnClose(func(s domain.Session, reason string) { svc.SessionClosed(s, reason) }),
	)
	surface := tools.NewSurface(registry, engine, env, logger, tools.WithMaxReadChars(cfg.FileQAMaxChars))
	svc = service.New(registry, surface, db, policyEngine, eventHub, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go eventHub.Run(hubCtx)
	go registry.RunReaper(ctx, cfg.ReaperInterval)

	e := httpserver.NewServer(svc, eventHub, v1.StreamConfig{PingInterval: cfg.WSPingInterval}, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.WithField("port", cfg.HTTPPort).Info("HTTP API started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.WithError(serveErr).Error("HTTP server failed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}
	registry.CloseAll()
	stopHub()

	logger.Info("stopped")
	return serveErr
}
