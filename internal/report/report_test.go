package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"scopeleak/internal/platform/config"
	"scopeleak/internal/platform/logger"
	"scopeleak/internal/platform/metrics"
	"scopeleak/internal/tracker"
)

func sampleRound(runID string, n int) Round {
	return Round{
		RunID:      runID,
		Round:      n,
		Usage:      tracker.Usage{Total: 20 * n, NotDisposed: n, Released: 19 * n},
		Batch:      BatchStats{Scopes: 20, Succeeded: 19, Failed: 1, DurationMS: 12},
		ReportedAt: time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC),
	}
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	var calls []string
	first := errors.New("first")
	third := errors.New("third")

	m := Multi{
		SinkFunc(func(context.Context, Round) error { calls = append(calls, "a"); return first }),
		SinkFunc(func(context.Context, Round) error { calls = append(calls, "b"); return nil }),
		SinkFunc(func(context.Context, Round) error { calls = append(calls, "c"); return third }),
	}

	err := m.Report(ctx, sampleRound("run", 1))
	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, third)

	assert.NoError(t, Multi{}.Report(ctx, sampleRound("run", 1)))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logger.NewWithWriter(&buf, config.LogConfig{Level: "info", Format: "json"}))

	require.NoError(t, sink.Report(context.Background(), sampleRound("run-1", 2)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scope usage", line["msg"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "Total: 40, NotDisposed: 2", line["usage"])
	assert.EqualValues(t, 40, line["total"])
	assert.EqualValues(t, 2, line["not_disposed"])
	assert.EqualValues(t, 38, line["released"])
}

func TestMetricsSink(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sink := NewMetricsSink(m)

	require.NoError(t, sink.Report(context.Background(), sampleRound("run", 3)))

	assert.Equal(t, 60.0, testutil.ToFloat64(m.HandlesTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HandlesNotDisposed))
	assert.Equal(t, 57.0, testutil.ToFloat64(m.HandlesReleased))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HandlesUnknown))
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaSink(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes json keyed by run", func(t *testing.T) {
		p := &fakeProducer{}
		sink := NewKafkaSink(p, "scopeleak.usage")

		round := sampleRound("run-7", 1)
		require.NoError(t, sink.Report(ctx, round))
		require.Len(t, p.records, 1)

		rec := p.records[0]
		assert.Equal(t, "scopeleak.usage", rec.Topic)
		assert.Equal(t, []byte("run-7"), rec.Key)

		var got Round
		require.NoError(t, json.Unmarshal(rec.Value, &got))
		assert.Equal(t, round, got)
	})

	t.Run("surfaces produce errors", func(t *testing.T) {
		brokerDown := errors.New("broker down")
		sink := NewKafkaSink(&fakeProducer{err: brokerDown}, "t")

		err := sink.Report(ctx, sampleRound("run", 1))
		assert.ErrorIs(t, err, brokerDown)
	})
}
