//go:build integration

package sqldb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"scopeleak/internal/harness"
	"scopeleak/internal/platform/config"
	"scopeleak/internal/platform/logger"
	"scopeleak/internal/platform/postgres"
	"scopeleak/internal/resource/sqldb"
	"scopeleak/internal/tracker"
	"scopeleak/pkg/testutil/containers"
)

type PostgresFactorySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
}

func TestPostgresFactorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresFactorySuite))
}

func (s *PostgresFactorySuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
}

func (s *PostgresFactorySuite) run(driver string, leakEvery int) tracker.Usage {
	ctx := context.Background()
	db, err := postgres.Open(ctx, config.PostgresConfig{DSN: s.postgres.DSN, Driver: driver})
	s.Require().NoError(err)
	defer db.Close()

	tr := tracker.New(tracker.NewRegistry(), tracker.NewProbe(5*time.Second), logger.Discard())
	runner := harness.NewBatchRunner(sqldb.New(db, sqldb.WithLeakEvery(leakEvery)), tr, logger.Discard())

	result, err := runner.Run(ctx, 20)
	s.Require().NoError(err)
	s.Equal(20, result.Succeeded)

	usage, err := tr.Usage(ctx)
	s.Require().NoError(err)
	return usage
}

func (s *PostgresFactorySuite) TestReleasedSessionsAreDisposed() {
	for _, driver := range []string{postgres.DriverPgx, postgres.DriverPQ} {
		s.Run(driver, func() {
			usage := s.run(driver, 0)
			s.Equal(20, usage.Total)
			s.Equal(0, usage.NotDisposed)
		})
	}
}

func (s *PostgresFactorySuite) TestLeakedSessionsStayUsable() {
	for _, driver := range []string{postgres.DriverPgx, postgres.DriverPQ} {
		s.Run(driver, func() {
			usage := s.run(driver, 4)
			s.Equal(20, usage.Total)
			s.Equal(5, usage.NotDisposed)
			s.Equal(15, usage.Released)
		})
	}
}
