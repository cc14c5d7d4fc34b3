// Package harness drives the load: batches of concurrent scopes, each running
// one trivial operation, repeated round after round with usage reports in
// between.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"scopeleak/internal/platform/metrics"
	"scopeleak/internal/resource"
)

var tracer = otel.Tracer("scopeleak/internal/harness")

// Registrar records handles as they are created.
type Registrar interface {
	Track(h resource.Handle)
}

// BatchResult describes one finished batch. Errors holds every operation
// failure, in scope order.
type BatchResult struct {
	Scopes          int
	Succeeded       int
	Failed          int
	ReleaseFailures int
	Errors          []error
	Duration        time.Duration
}

// BatchRunner runs one batch at a time.
type BatchRunner struct {
	factory   resource.Factory
	registrar Registrar
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// BatchOption configures a BatchRunner.
type BatchOption func(*BatchRunner)

// WithMetrics records batch counters and durations.
func WithMetrics(m *metrics.Metrics) BatchOption {
	return func(b *BatchRunner) {
		b.metrics = m
	}
}

// NewBatchRunner constructs a BatchRunner.
func NewBatchRunner(factory resource.Factory, registrar Registrar, logger *slog.Logger, opts ...BatchOption) *BatchRunner {
	b := &BatchRunner{
		factory:   factory,
		registrar: registrar,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Run creates batchSize scopes, registering each handle as soon as it exists,
// runs every handle's no-op concurrently, waits for all of them and then
// releases every scope.
//
// Operation and release failures are recorded in the result, never returned.
// The only error is a failed scope creation, after the scopes created so far
// have been released; resource.ErrBackendUnavailable stays in its chain.
// Once started, a batch runs to completion even if ctx is cancelled.
func (b *BatchRunner) Run(ctx context.Context, batchSize int) (BatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "harness.batch",
		trace.WithAttributes(attribute.Int("batch.size", batchSize)))
	defer span.End()

	start := time.Now()
	scopes := make([]resource.Scope, 0, batchSize)
	for i := range batchSize {
		scope, err := b.factory.CreateScope(ctx)
		if err != nil {
			b.releaseAll(ctx, scopes)
			span.RecordError(err)
			span.SetStatus(codes.Error, "create scope")
			return BatchResult{}, fmt.Errorf("create scope %d of %d: %w", i+1, batchSize, err)
		}
		b.registrar.Track(scope.Handle())
		scopes = append(scopes, scope)
	}

	errs := make([]error, len(scopes))
	var g errgroup.Group
	for i, scope := range scopes {
		g.Go(func() error {
			errs[i] = scope.Handle().ExecNoOp(ctx)
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Scopes: len(scopes)}
	for i, err := range errs {
		if err == nil {
			result.Succeeded++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, err)
		b.logger.WarnContext(ctx, "operation failed",
			"handle_id", scopes[i].ID(),
			"error", err,
			"already_released", errors.Is(err, resource.ErrAlreadyReleased),
		)
	}

	result.ReleaseFailures = b.releaseAll(ctx, scopes)
	result.Duration = time.Since(start)

	if b.metrics != nil {
		b.metrics.ObserveBatch(result.Duration, result.Failed, result.ReleaseFailures)
	}
	span.SetAttributes(
		attribute.Int("batch.failed", result.Failed),
		attribute.Int("batch.release_failures", result.ReleaseFailures),
	)
	return result, nil
}

// releaseAll releases every scope, logging failures, and returns how many failed.
func (b *BatchRunner) releaseAll(ctx context.Context, scopes []resource.Scope) int {
	failures := 0
	for _, scope := range scopes {
		if err := scope.Release(ctx); err != nil {
			failures++
			b.logger.WarnContext(ctx, "release failed", "scope_id", scope.ID(), "error", err)
		}
	}
	return failures
}
