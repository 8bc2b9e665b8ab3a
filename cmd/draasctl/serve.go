package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"DRaaS-Chain/internal/api"
	"DRaaS-Chain/internal/config"
	"DRaaS-Chain/internal/events"
	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/observability/metrics"
	"DRaaS-Chain/internal/observability/tracing"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console service",
		Long: `Run the poll loop, the upload orchestrator and the HTTP API until interrupted.
A separate metrics listener is started when metrics.address is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts.cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("serve")
	defer func() { _ = logger.Sync() }()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	client, err := newSchedulerClient(cfg.Scheduler)
	if err != nil {
		return err
	}

	// 链客户端缺失时控制台依然可以浏览与取消部署，只是上传会被拒绝。
	registry, payer, err := openChain(ctx, cfg.Web3, nil)
	if err != nil {
		return err
	}
	defer registry.Close()
	if payer == nil {
		log.Warn("未配置链端点，上传将被拒绝")
	} else if !payer.WalletAvailable() {
		log.Warn("未配置签名钱包，上传将被拒绝", slog.String("chain", registry.DefaultChain()))
	}

	store, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := events.Open(cfg.Events)
	if err != nil {
		return err
	}
	defer bus.Close()

	snapshots := reconcile.New(client, cfg.Poll.Interval())
	orch := orchestrator.New(client, payer, snapshots,
		orchestrator.WithJournal(store),
		orchestrator.WithPublisher(bus),
		orchestrator.WithPaymentTimeout(cfg.Web3.PaymentTimeout()),
	)
	defer orch.Close()

	server := api.NewServer(cfg.Server.Address, orch, snapshots,
		api.WithJournal(store),
		api.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		api.WithToken(cfg.Server.APIToken()),
		api.WithSettleGrace(cfg.Web3.PaymentTimeout()),
	)

	if cfg.Server.APIToken() == "" {
		log.Warn("未配置 API 令牌，/api/v1 不做认证")
	}
	log.Info("控制台启动",
		slog.String("api", cfg.Server.Address),
		slog.String("scheduler", cfg.Scheduler.BaseURL),
		slog.String("journal", cfg.Journal.Driver),
		slog.String("events", cfg.Events.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return snapshots.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	if addr := cfg.Metrics.Address; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("控制台已停止")
	return nil
}

// serveMetrics 在独立端口暴露 Prometheus 指标。
func serveMetrics(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("metrics").Info("metrics listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
