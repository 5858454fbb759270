package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/medrag/internal/bootstrap"
	"github.com/OFFIS-RIT/medrag/internal/config"
	"github.com/OFFIS-RIT/medrag/internal/queue"
	"github.com/OFFIS-RIT/medrag/internal/util"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.InitLogger(config.FromEnv(), "worker")
		logger.Fatal("Invalid configuration", "err", err)
		os.Exit(1)
	}
	bootstrap.InitLogger(cfg, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := cfg.Queue.URL()
	if url == "" {
		logger.Fatal("RABBITMQ_HOST is required for the worker")
		os.Exit(1)
	}

	engine, model, err := bootstrap.NewEngine(ctx, cfg)
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

	loaders, _, err := bootstrap.NewLoaders(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
		os.Exit(1)
	}
	processor := &queue.Processor{Engine: engine, Loaders: loaders}

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

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
		os.Exit(1)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
		os.Exit(1)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		msgs, err := consumerCh.Consume(
			queueName,
			fmt.Sprintf("%s_consumer", queueName),
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
			os.Exit(1)
		}

		go func(qName string, msgs <-chan amqp.Delivery) {
			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName, msgs)
	}

	logger.Info("Listening for messages")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case qm := <-messageChan:
			startTime := time.Now()
			logger.Info("Received message", "queue", qm.queueName)

			// If there was an error send to retry or dead-letter, otherwise ack the message
			if err := processor.Process(ctx, qm.queueName, qm.msg.Body); err != nil {
				logger.Error("Error processing message", "queue", qm.queueName, "err", err)
				queue.HandleProcessingError(ctx, ch, qm.msg, qm.queueName, err)
			} else {
				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", qm.queueName)
			}

			bootstrap.LogMetrics(model)
			logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Second))
		}
	}
}
