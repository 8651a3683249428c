package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/intake/internal/agent"
	"github.com/rahul/intake/internal/gateway"
	"github.com/rahul/intake/internal/governance"
	"github.com/rahul/intake/internal/observability"
	"github.com/rahul/intake/internal/records"
	"github.com/rahul/intake/internal/store"
	"github.com/rahul/intake/internal/tools"
	"github.com/rahul/intake/internal/workflow"
	"github.com/rahul/intake/pkg/config"
)

// Set by goreleaser or -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "config.json", "path to the JSON or YAML config file")
	verbose := pflag.Bool("verbose", false, "enable debug logging")
	httpAddr := pflag.String("http-addr", "", "override the HTTP gateway listen address")
	metricsAddr := pflag.String("metrics-addr", "", "override the Prometheus metrics listen address")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		h := cfg.Gateways["http"]
		h.Addr = *httpAddr
		cfg.Gateways["http"] = h
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	log := observability.NewLogger(*verbose || cfg.App.Verbose)
	observability.PrintBanner(observability.NewTermWriter(), version)
	observability.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := newModel(cfg)
	if err != nil {
		return err
	}

	clients, err := records.Open(cfg.Records.Path)
	if err != nil {
		return fmt.Errorf("failed to open client records: %w", err)
	}
	defer clients.Close()
	if cfg.Records.Seed != "" {
		n, err := clients.Seed(ctx, cfg.Records.Seed)
		if err != nil {
			return fmt.Errorf("failed to seed client records: %w", err)
		}
		log.Info("client records seeded", "path", cfg.Records.Seed, "clients", n)
	}

	backend, pruner, err := newBackend(ctx, cfg.Memory)
	if err != nil {
		return err
	}
	defer backend.Close()

	registry := tools.NewRegistry()
	tools.RegisterClientTools(registry, clients)

	prompts := agent.NewPromptManager(cfg.Prompts.Directory)
	transcript := observability.NewTranscript("", log)

	_, provider := cfg.GetDefaultProvider()
	var callOpts []llms.CallOption
	if provider.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(provider.Temperature))
	}
	caller := agent.NewCaller(model, log, transcript, callOpts...)

	var source workflow.QuestionSource = records.NewSchemaSource()
	if cfg.Workflow.QuestionSource == config.SourceLLM {
		var fallback workflow.QuestionSource
		if cfg.Workflow.GeneratorFallback {
			fallback = source
		}
		source = agent.NewGenerator(caller, prompts, cfg.Workflow.GeneratorTimeout.Std(), fallback)
	}

	policy := governance.NewIntakePolicy()
	if err := policy.Restrict(cfg.Governance.DeniedTools, cfg.Governance.DeniedPatterns); err != nil {
		return fmt.Errorf("invalid governance config: %w", err)
	}

	responder := agent.NewResponder(caller, registry, policy, backend, prompts)
	responder.MaxSteps = cfg.Workflow.MaxToolSteps
	responder.HistoryWindow = cfg.Memory.HistoryWindow

	driver := workflow.NewDriver(source, responder, agent.NewClassifier(caller, prompts), backend,
		workflow.WithLogger(log),
		workflow.WithRecorder(observability.WorkflowRecorder{}),
		workflow.WithStartToken(cfg.Workflow.StartToken),
		workflow.WithMemory(backend),
	)

	gateways, err := newGateways(cfg, driver, clients, log)
	if err != nil {
		return err
	}
	if len(gateways) == 0 {
		return errors.New("no gateway is enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, gw := range gateways {
		g.Go(func() error {
			log.Info("gateway starting", "gateway", gw.Name())
			if err := gw.Start(gctx); err != nil {
				return fmt.Errorf("%s gateway: %w", gw.Name(), err)
			}
			return nil
		})
	}

	sweeper := store.NewSweeper(pruner, 0, log)
	if pruner != nil {
		sweeper.TTL = cfg.Memory.TTL.Std()
	}
	sweeper.Heartbeat = observability.Heartbeat
	g.Go(func() error { return sweeper.Start(gctx) })

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, log) })
	}

	if observability.IsTerminal() {
		g.Go(func() error {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		})
	}

	err = g.Wait()
	log.Info("intake shut down")
	return err
}

func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		} else if name == "openrouter" {
			opts = append(opts, openai.WithBaseURL("https://openrouter.ai/api/v1"))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	case "":
		return nil, errors.New("no enabled provider found in config")
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

// newBackend opens the configured progress and memory store. The pruner is
// nil for backends that expire memory themselves.
func newBackend(ctx context.Context, cfg config.MemoryConfig) (store.Backend, store.Pruner, error) {
	switch cfg.Type {
	case config.MemoryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(client,
			store.WithPrefix(cfg.Prefix),
			store.WithTTL(cfg.TTL.Std()),
		), nil, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open progress store: %w", err)
		}
		return s, s, nil
	}
}

func newGateways(cfg *config.Config, wf gateway.Workflow, clients gateway.ClientDirectory, log *slog.Logger) ([]gateway.Gateway, error) {
	var gateways []gateway.Gateway

	if httpCfg, ok := cfg.GetHTTPConfig(); ok {
		gateways = append(gateways, gateway.NewHTTPGateway(wf, httpCfg, log,
			gateway.WithVersion(version),
			gateway.WithClientDirectory(clients)))
	}

	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		chat := gateway.NewChatHandler(wf, tgCfg.DefaultReference, log.With("gateway", "telegram"))
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, chat, log)
		if err != nil {
			return nil, fmt.Errorf("failed to start telegram gateway: %w", err)
		}
		gateways = append(gateways, tg)
	}

	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		chat := gateway.NewChatHandler(wf, dcCfg.DefaultReference, log.With("gateway", "discord"))
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, chat, log)
		if err != nil {
			return nil, fmt.Errorf("failed to start discord gateway: %w", err)
		}
		gateways = append(gateways, dc)
	}

	return gateways, nil
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
