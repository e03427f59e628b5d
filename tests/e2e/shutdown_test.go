//go:build integration

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/watchledger/internal/control"
	"github.com/vietddude/watchledger/internal/core/config"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/health"
	"github.com/vietddude/watchledger/internal/registry"
)

type chainStub struct{}

func (chainStub) Balance(context.Context, domain.NetworkID, string) (string, *uint64, error) {
	b := uint64(100)
	return "3.5", &b, nil
}

func startBackends(t *testing.T) (pgURL, redisURL string) {
	t.Helper()
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("watchledger_e2e"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })
	pgURL, err = pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rd, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rd.Terminate(context.Background()) })
	redisURL, err = rd.ConnectionString(ctx)
	require.NoError(t, err)
	return pgURL, redisURL
}

func TestGracefulShutdown(t *testing.T) {
	pgURL, redisURL := startBackends(t)

	cfg, err := config.Parse([]byte(`
server:
  port: 18089
database:
  url: ` + pgURL + `
  auto_migrate: true
redis:
  url: ` + redisURL + `
workers:
  poll_interval: 200ms
  session_sweep_interval: 200ms
`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.New(ctx, *cfg, control.Options{ChainReader: chainStub{}})
	require.NoError(t, err)

	u, err := app.Identity.CreateUser(ctx, "grace", "grace@x.io", "hash", "salt")
	require.NoError(t, err)
	w, err := app.Registry.AddWatch(ctx, u.ID, "0xAbC0000000000000000000000000000000000001", domain.NetworkEthereum, registry.WatchOptions{})
	require.NoError(t, err)

	require.NoError(t, app.Start(ctx))

	// The poller runs immediately and then every 200ms.
	require.Eventually(t, func() bool {
		bal, err := app.Ledger.LatestBalance(ctx, w.ID, nil)
		return err == nil && bal.String() == "3.5"
	}, 10*time.Second, 100*time.Millisecond)

	report := app.Health(ctx)
	assert.Equal(t, health.StatusHealthy, report.SystemStatus)
	assert.Contains(t, report.Components, "redis")

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	done := make(chan error, 1)
	go func() { done <- app.Stop(stopCtx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Error("Stop did not return within 10s")
	}
}
