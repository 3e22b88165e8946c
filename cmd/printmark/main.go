// Command printmark is an IPP printer that watermarks every job with a
// label derived from the submitting client and forwards it to a real
// printer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/wudi/printmark/config"
	"github.com/wudi/printmark/gateway"
	"github.com/wudi/printmark/inspect"
	"github.com/wudi/printmark/ipp"
	"github.com/wudi/printmark/observability"
	"github.com/wudi/printmark/optimize"
	"github.com/wudi/printmark/policy"
	"github.com/wudi/printmark/security"
	"github.com/wudi/printmark/stamp"
	"github.com/wudi/printmark/status"
	"github.com/wudi/printmark/storage"
	"github.com/wudi/printmark/watermark"
)

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "printmark: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "printmark: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := observability.NewSlogFrom(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	resolver, err := newResolver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	renderer, err := watermark.NewRenderer(nil)
	if err != nil {
		return fmt.Errorf("load font: %w", err)
	}

	limits := security.DefaultLimits()
	limits.MaxJobSize = cfg.MaxJobSize
	downstream := ipp.NewClient(cfg.Downstream)
	board := status.NewBoard(cfg.PrinterName, cfg.Downstream)
	pipeline, err := gateway.New(gateway.Config{
		Store:      storage.New(cfg.StorageRoot),
		Resolver:   resolver,
		Forwarder:  gateway.IPPForwarder{Client: downstream},
		Renderer:   renderer,
		Compositor: stamp.NewCompositor(stamp.Config{Limits: limits, Optimize: optimize.DefaultConfig(), Logger: logger}),
		Analyzer:   inspect.NewAnalyzer(limits),
		Limits:     limits,
		Logger:     logger,
		Recorder:   board,

		CanvasSize:              cfg.WatermarkSize,
		OffsetX:                 cfg.OffsetX,
		OffsetY:                 cfg.OffsetY,
		KeepRawOnForwardFailure: cfg.KeepRawOnForwardFailure,
	})
	if err != nil {
		return err
	}

	if cfg.PrinterUUID == "" {
		cfg.PrinterUUID = uuid.NewString()
	}
	srv := &ipp.Server{
		Name:            cfg.PrinterName,
		UUID:            cfg.PrinterUUID,
		Handler:         pipeline,
		Logger:          logger,
		MaxDocumentSize: cfg.MaxJobSize,
		MaxConnections:  cfg.MaxConnections,
		Info:            board,
	}
	logger.Info("starting printmark",
		observability.String("printer", cfg.PrinterName),
		observability.String("downstream", cfg.Downstream),
		observability.String("storage", cfg.StorageRoot),
		observability.String("policy", cfg.Policy),
	)
	return srv.ListenAndServe(ctx, cfg.Listen)
}

func newResolver(ctx context.Context, cfg config.Config, logger observability.Logger) (policy.Resolver, error) {
	switch cfg.Policy {
	case config.PolicyStatic:
		return policy.Static{Octet: cfg.StaticOctet}, nil
	case config.PolicyScript:
		return policy.LoadScripted(ctx, cfg.PolicyScript, logger)
	default:
		return nil, fmt.Errorf("unknown policy %q", cfg.Policy)
	}
}
