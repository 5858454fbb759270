package ai

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/medrag/internal/util"
	"github.com/OFFIS-RIT/medrag/pkg/logger"

	"golang.org/x/sync/semaphore"
)

// DefaultRetryPolicy retries transient provider errors three times with a
// wait between 4s and 10s.
func DefaultRetryPolicy() util.RetryPolicy {
	p := util.DefaultRetryPolicy(IsTransient)
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Warn("[AI] Retrying model call", "attempt", attempt, "wait", wait, "err", err)
	}
	return p
}

type retryingCompleter struct {
	next   Completer
	policy util.RetryPolicy
}

// NewRetryingCompleter wraps c so that every call follows policy.
func NewRetryingCompleter(c Completer, policy util.RetryPolicy) Completer {
	return &retryingCompleter{next: c, policy: policy}
}

func (r *retryingCompleter) Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return util.Retry(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.next.Complete(ctx, prompt, opts...)
	})
}

type retryingEmbedder struct {
	next   Embedder
	policy util.RetryPolicy
}

// NewRetryingEmbedder wraps e so that every call follows policy.
func NewRetryingEmbedder(e Embedder, policy util.RetryPolicy) Embedder {
	return &retryingEmbedder{next: e, policy: policy}
}

func (r *retryingEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return util.Retry(ctx, r.policy, func(ctx context.Context) ([][]float32, error) {
		return r.next.Embed(ctx, input)
	})
}

func (r *retryingEmbedder) Dimension() int    { return r.next.Dimension() }
func (r *retryingEmbedder) MaxTokenSize() int { return r.next.MaxTokenSize() }

// Limiter bounds the number of in-flight model calls. One Limiter is shared
// by the completer and embedder of an engine.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter allows n concurrent calls, n < 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *Limiter) do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}

type limitedCompleter struct {
	next    Completer
	limiter *Limiter
}

// NewLimitedCompleter wraps c so that at most the limiter's capacity of calls
// run at once.
func NewLimitedCompleter(c Completer, l *Limiter) Completer {
	return &limitedCompleter{next: c, limiter: l}
}

func (c *limitedCompleter) Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	var out string
	err := c.limiter.do(ctx, func() error {
		var err error
		out, err = c.next.Complete(ctx, prompt, opts...)
		return err
	})
	return out, err
}

type limitedEmbedder struct {
	next    Embedder
	limiter *Limiter
}

// NewLimitedEmbedder is the Embedder counterpart of NewLimitedCompleter.
func NewLimitedEmbedder(e Embedder, l *Limiter) Embedder {
	return &limitedEmbedder{next: e, limiter: l}
}

func (e *limitedEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	var out [][]float32
	err := e.limiter.do(ctx, func() error {
		var err error
		out, err = e.next.Embed(ctx, input)
		return err
	})
	return out, err
}

func (e *limitedEmbedder) Dimension() int    { return e.next.Dimension() }
func (e *limitedEmbedder) MaxTokenSize() int { return e.next.MaxTokenSize() }
