package harness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"scopeleak/internal/platform/logger"
	"scopeleak/internal/report"
	"scopeleak/internal/resource"
	"scopeleak/internal/resource/memory"
	"scopeleak/internal/tracker"
)

// recordingSink keeps every reported round.
type recordingSink struct {
	mu      sync.Mutex
	rounds  []report.Round
	onRound func(r report.Round) error
}

func (s *recordingSink) Report(_ context.Context, r report.Round) error {
	s.mu.Lock()
	s.rounds = append(s.rounds, r)
	s.mu.Unlock()
	if s.onRound != nil {
		return s.onRound(r)
	}
	return nil
}

func (s *recordingSink) roundNumbers() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, r.Round)
	}
	return out
}

func (s *recordingSink) last() report.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[len(s.rounds)-1]
}

type DriverSuite struct {
	suite.Suite
	factory *memory.Factory
	tracker *tracker.Tracker
	sink    *recordingSink
}

func TestDriverSuite(t *testing.T) {
	suite.Run(t, new(DriverSuite))
}

func (s *DriverSuite) SetupTest() {
	s.factory = memory.New()
	s.tracker = tracker.New(tracker.NewRegistry(), tracker.NewProbe(time.Second), logger.Discard())
	s.sink = &recordingSink{}
}

func (s *DriverSuite) driver(cfg Config) *Driver {
	runner := NewBatchRunner(s.factory, s.tracker, logger.Discard())
	return NewDriver(runner, s.tracker, s.sink, logger.Discard(), cfg, WithRunID("run-test"))
}

func (s *DriverSuite) TestRepeatedRoundsWithoutLeak() {
	err := s.driver(Config{Iterations: 3, BatchSize: 20}).Run(context.Background())
	s.Require().NoError(err)

	s.Equal([]int{1, 2, 3}, s.sink.roundNumbers())
	last := s.sink.last()
	s.Equal("run-test", last.RunID)
	s.Equal(60, last.Usage.Total)
	s.Equal(0, last.Usage.NotDisposed)
	s.Equal(20, last.Batch.Scopes)
	s.Equal(20, last.Batch.Succeeded)
}

func (s *DriverSuite) TestRoundsOnlyGrow() {
	s.Require().NoError(s.driver(Config{Iterations: 4, BatchSize: 5}).Run(context.Background()))

	for i, r := range s.sink.rounds {
		s.GreaterOrEqual(r.Usage.Total, 5*(i+1), "round N covers at least every handle from rounds 1..N")
	}
}

func (s *DriverSuite) TestLeakIsReported() {
	s.factory = memory.New(memory.WithLeakEvery(4))

	s.Require().NoError(s.driver(Config{Iterations: 1, BatchSize: 20}).Run(context.Background()))

	usage := s.sink.last().Usage
	s.Equal(20, usage.Total)
	s.Equal(5, usage.NotDisposed)
	s.Equal(15, usage.Released)
}

func (s *DriverSuite) TestReportEvery() {
	s.Require().NoError(s.driver(Config{Iterations: 5, BatchSize: 2, ReportEvery: 2}).Run(context.Background()))

	s.Equal([]int{2, 4, 5}, s.sink.roundNumbers())
	s.Equal(10, s.sink.last().Usage.Total)
}

func (s *DriverSuite) TestBackendUnavailableAbortsRun() {
	s.sink.onRound = func(r report.Round) error {
		if r.Round == 2 {
			s.factory.SetUnavailable(true)
		}
		return nil
	}

	err := s.driver(Config{Iterations: 10, BatchSize: 3}).Run(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, resource.ErrBackendUnavailable)
	s.Contains(err.Error(), "round 3")
	s.Equal([]int{1, 2}, s.sink.roundNumbers())
}

func (s *DriverSuite) TestProbeFailuresDoNotStopTheLoop() {
	s.factory = memory.New(memory.WithLeakEvery(2), memory.WithTransient(func(seq int) bool { return seq%4 == 0 }))

	s.Require().NoError(s.driver(Config{Iterations: 3, BatchSize: 4}).Run(context.Background()))

	s.Equal([]int{1, 2, 3}, s.sink.roundNumbers())
	usage := s.sink.last().Usage
	s.Equal(12, usage.Total)
	s.Equal(3, usage.Unknown, "leaked handles that fail their probe are unknown, not released")
}

func (s *DriverSuite) TestSinkFailuresDoNotStopTheLoop() {
	s.sink.onRound = func(report.Round) error { return errors.New("disk full") }

	s.Require().NoError(s.driver(Config{Iterations: 3, BatchSize: 1}).Run(context.Background()))
	s.Equal([]int{1, 2, 3}, s.sink.roundNumbers())
}

func (s *DriverSuite) TestSinkReportingBackendUnavailableAbortsRun() {
	s.sink.onRound = func(report.Round) error {
		return resource.Unavailable("publish", errors.New("gone"))
	}

	err := s.driver(Config{Iterations: 3, BatchSize: 1}).Run(context.Background())
	s.ErrorIs(err, resource.ErrBackendUnavailable)
	s.Equal([]int{1}, s.sink.roundNumbers())
}

func (s *DriverSuite) TestCancellationStopsBetweenRounds() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.sink.onRound = func(r report.Round) error {
		if r.Round == 3 {
			cancel()
		}
		return nil
	}

	err := s.driver(Config{Iterations: 0, BatchSize: 2}).Run(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Equal([]int{1, 2, 3}, s.sink.roundNumbers())
	s.Equal(6, s.sink.last().Usage.Total)
}

type stubBatcher struct {
	calls int
	err   error
}

func (b *stubBatcher) Run(context.Context, int) (BatchResult, error) {
	b.calls++
	return BatchResult{}, b.err
}

type stubUsage struct{}

func (stubUsage) Usage(context.Context) (tracker.Usage, error) { return tracker.Usage{}, nil }

func TestDriver_NonFatalBatchErrorsAreLogged(t *testing.T) {
	b := &stubBatcher{err: errors.New("create scope 1 of 1: context deadline exceeded")}
	sink := &recordingSink{}

	err := NewDriver(b, stubUsage{}, sink, logger.Discard(), Config{Iterations: 4, BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, b.calls)
	assert.Equal(t, []int{1, 2, 3, 4}, sink.roundNumbers())
}

func TestDriver_RunIDsAreTimeOrdered(t *testing.T) {
	first := NewDriver(&stubBatcher{}, stubUsage{}, &recordingSink{}, logger.Discard(), Config{})
	time.Sleep(2 * time.Millisecond)
	second := NewDriver(&stubBatcher{}, stubUsage{}, &recordingSink{}, logger.Discard(), Config{})

	assert.NotEqual(t, first.RunID(), second.RunID())
	assert.Less(t, first.RunID(), second.RunID())
}
