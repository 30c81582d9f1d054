package main

import (
	"context"
	"log/slog"

	"github.com/fatih/color"
	cfgPkg "github.com/xhad/cyberrag/pkg/config"
	"github.com/xhad/cyberrag/pkg/pipeline"
	"github.com/xhad/cyberrag/server"
)

func runServe(ctx context.Context, cfg *cfgPkg.Config, logger *slog.Logger) error {
	rag, err := pipeline.NewWithConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rag.Close()

	color.Green("Serving WebSocket on %s (/ws, /health)", cfg.Server.Addr)
	return server.NewWSServer(rag, logger).ListenAndServe(ctx, cfg.Server.Addr)
}
