package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scopeleak/internal/report"
	"scopeleak/internal/resource"
	"scopeleak/internal/tracker"
)

// UsageSource produces a usage snapshot on demand.
type UsageSource interface {
	Usage(ctx context.Context) (tracker.Usage, error)
}

// Batcher runs one batch.
type Batcher interface {
	Run(ctx context.Context, batchSize int) (BatchResult, error)
}

// Config controls the driver loop.
type Config struct {
	// Iterations is the number of rounds; 0 runs until ctx is cancelled.
	Iterations int
	BatchSize  int
	// ReportEvery reports usage on every nth round and always on the last one.
	ReportEvery int
}

// Driver runs batches one after another and reports usage between them.
type Driver struct {
	batcher Batcher
	usage   UsageSource
	sink    report.Sink
	logger  *slog.Logger
	cfg     Config
	runID   string
	clock   func() time.Time
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithRunID overrides the generated run ID.
func WithRunID(id string) DriverOption {
	return func(d *Driver) {
		if id != "" {
			d.runID = id
		}
	}
}

// WithDriverClock sets the clock used to stamp reports.
func WithDriverClock(clock func() time.Time) DriverOption {
	return func(d *Driver) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDriver constructs a Driver. Run IDs are UUIDv7 so they sort by start time.
func NewDriver(batcher Batcher, usage UsageSource, sink report.Sink, logger *slog.Logger, cfg Config, opts ...DriverOption) *Driver {
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 1
	}
	d := &Driver{
		batcher: batcher,
		usage:   usage,
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
		runID:   uuid.Must(uuid.NewV7()).String(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// RunID identifies this driver's reports.
func (d *Driver) RunID() string {
	return d.runID
}

// Run executes the rounds sequentially. Batch failures, probe failures and
// sink failures are logged and the loop goes on; only
// resource.ErrBackendUnavailable ends the run early with an error. ctx is
// checked between rounds, never inside one, and its error is returned when it
// stops the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "run started",
		"run_id", d.runID,
		"iterations", d.cfg.Iterations,
		"batch_size", d.cfg.BatchSize,
	)

	for round := 1; d.cfg.Iterations == 0 || round <= d.cfg.Iterations; round++ {
		if err := ctx.Err(); err != nil {
			d.logger.InfoContext(ctx, "run stopped", "run_id", d.runID, "completed_rounds", round-1)
			return err
		}
		if err := d.runRound(ctx, round); err != nil {
			d.logger.ErrorContext(ctx, "run aborted", "run_id", d.runID, "round", round, "error", err)
			return err
		}
	}

	d.logger.InfoContext(ctx, "run finished", "run_id", d.runID, "rounds", d.cfg.Iterations)
	return nil
}

func (d *Driver) runRound(ctx context.Context, round int) error {
	// a round that has started finishes, including its report
	ctx = context.WithoutCancel(ctx)

	result, err := d.batcher.Run(ctx, d.cfg.BatchSize)
	if err != nil {
		if errors.Is(err, resource.ErrBackendUnavailable) {
			return fmt.Errorf("round %d: %w", round, err)
		}
		d.logger.WarnContext(ctx, "batch failed", "round", round, "error", err)
	}

	if !d.shouldReport(round) {
		return nil
	}

	usage, err := d.usage.Usage(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "usage probe failures",
			"round", round,
			"unknown", usage.Unknown,
			"error", err,
		)
	}

	r := report.Round{
		RunID: d.runID,
		Round: round,
		Usage: usage,
		Batch: report.BatchStats{
			Scopes:          result.Scopes,
			Succeeded:       result.Succeeded,
			Failed:          result.Failed,
			ReleaseFailures: result.ReleaseFailures,
			DurationMS:      result.Duration.Milliseconds(),
		},
		ReportedAt: d.clock(),
	}
	if err := d.sink.Report(ctx, r); err != nil {
		if errors.Is(err, resource.ErrBackendUnavailable) {
			return fmt.Errorf("round %d report: %w", round, err)
		}
		d.logger.WarnContext(ctx, "report failed", "round", round, "error", err)
	}
	return nil
}

func (d *Driver) shouldReport(round int) bool {
	return round%d.cfg.ReportEvery == 0 || round == d.cfg.Iterations
}
