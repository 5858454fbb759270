package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/medrag/internal/bootstrap"
	"github.com/OFFIS-RIT/medrag/internal/config"
	"github.com/OFFIS-RIT/medrag/internal/queue"
	"github.com/OFFIS-RIT/medrag/internal/server"
	"github.com/OFFIS-RIT/medrag/internal/server/middleware"
	"github.com/OFFIS-RIT/medrag/internal/util"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.InitLogger(config.FromEnv(), "server")
		logger.Fatal("Invalid configuration", "err", err)
		os.Exit(1)
	}
	bootstrap.InitLogger(cfg, "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, _, err := bootstrap.NewEngine(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open engine", "err", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.Error("Failed to close engine", "err", err)
		}
	}()

	loaders, s3, err := bootstrap.NewLoaders(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
		os.Exit(1)
	}

	app := &middleware.App{Engine: engine, Storage: s3, Loaders: loaders}

	if url := cfg.Queue.URL(); url != "" {
		conn, err := queue.Dial(url)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
			os.Exit(1)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
			os.Exit(1)
		}
		defer ch.Close()

		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
			os.Exit(1)
		}
		app.Queue = ch
	} else {
		logger.Warn("RABBITMQ_HOST not set, async ingestion disabled")
	}

	e := server.New(app, cfg.Server)
	if err := server.Run(ctx, e, cfg.Server.Port); err != nil {
		logger.Error("Server stopped", "err", err)
	}
}
