package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

// Engine is the part of *rag.Engine the worker drives.
type Engine interface {
	Insert(ctx context.Context, text string) (rag.InsertReport, error)
	DeleteEntity(ctx context.Context, name string) error
}

// Processor executes jobs taken from the work queues.
type Processor struct {
	Engine  Engine
	Loaders loader.Set
}

// Process handles one message body from queueName.
func (p *Processor) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case InsertQueue:
		job, err := DecodeInsertJob(body)
		if err != nil {
			return err
		}
		return p.insert(ctx, job)
	case DeleteQueue:
		job, err := DecodeDeleteJob(body)
		if err != nil {
			return err
		}
		return p.delete(ctx, job)
	default:
		return fmt.Errorf("%w: unknown queue %q", ErrInvalidMessage, queueName)
	}
}

func (p *Processor) insert(ctx context.Context, job InsertJob) error {
	kind, path := job.Source()
	text := path
	if kind != "" {
		loaded, err := p.Loaders.Load(ctx, kind, path)
		if err != nil {
			if errors.Is(err, loader.ErrNoLoader) {
				return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
			return err
		}
		text = loaded
	}

	report, err := p.Engine.Insert(ctx, text)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyDocument) {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return err
	}
	// Degraded chunks are not recorded, so a redelivery extracts them again.
	if len(report.DegradedChunks) > 0 {
		return fmt.Errorf("job %s: %d chunks degraded", job.JobID, len(report.DegradedChunks))
	}
	logger.Info("[Queue] Inserted document", "job_id", job.JobID, "doc_id", report.DocumentID, "skipped", report.Skipped)
	return nil
}

func (p *Processor) delete(ctx context.Context, job DeleteJob) error {
	err := p.Engine.DeleteEntity(ctx, job.Entity)
	if errors.Is(err, rag.ErrEntityNotFound) {
		logger.Warn("[Queue] Entity already gone", "job_id", job.JobID, "entity", job.Entity)
		return nil
	}
	return err
}

// Retries returns the x-retries header of msg.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int16:
		return int(v)
	default:
		return 0
	}
}

// HandleProcessingError republishes a failed message to the retry queue,
// or to the dead-letter queue once MaxRetries is reached or the failure is
// permanent, and acknowledges the original delivery. When republishing
// fails the delivery is requeued.
func HandleProcessingError(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := Retries(msg.Headers)

	target := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if retries >= MaxRetries || errors.Is(cause, ErrInvalidMessage) {
		target = DeadLetterQueue(queueName)
		headers["x-error"] = cause.Error()
		logger.Info("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	pubErr := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
	if pubErr != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
