package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/medrag/internal/bootstrap"
	"github.com/OFFIS-RIT/medrag/internal/cli"
	"github.com/OFFIS-RIT/medrag/internal/config"
	"github.com/OFFIS-RIT/medrag/internal/util"
)

func main() {
	util.LoadEnv()

	open := func(ctx context.Context) (*cli.Runtime, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		bootstrap.InitLogger(cfg, "medrag")

		engine, _, err := bootstrap.NewEngine(ctx, cfg)
		if err != nil {
			return nil, err
		}
		loaders, _, err := bootstrap.NewLoaders(ctx, cfg.Storage)
		if err != nil {
			_ = engine.Close(ctx)
			return nil, err
		}
		return &cli.Runtime{Engine: engine, Loaders: loaders, Close: engine.Close}, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
