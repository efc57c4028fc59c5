package postgres

import (
	"context"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
	container     *tcpostgres.PostgresContainer
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
	os.Exit(code)
}

// databaseURL prefers SWEEPWATCH_TEST_DATABASE_URL and otherwise starts a
// throwaway postgres container shared by the package's tests.
func databaseURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("SWEEPWATCH_TEST_DATABASE_URL"); url != "" {
		return url
	}
	if testing.Short() {
		t.Skip("postgres container disabled in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		container, containerErr = tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("sweepwatch_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			tcpostgres.BasicWaitStrategies(),
		)
		if containerErr != nil {
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)
	return containerURL
}

func testDB(t *testing.T) *DB {
	t.Helper()
	url := databaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := NewDB(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func record(walletID string) *domain.SweepRecord {
	return &domain.SweepRecord{
		WalletID:    walletID,
		ChainFamily: domain.ChainFamilyEVM,
		Asset:       "ETH",
		Amount:      new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		Destination: "0xdest",
	}
}

func TestSweepRepo_ExclusiveInsert(t *testing.T) {
	repo := NewSweepRepo(testDB(t))
	ctx := context.Background()
	walletID := "w-" + uuid.NewString()

	var mu sync.Mutex
	results := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.InsertPending(ctx, record(walletID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				results["ok"]++
			case assert.ErrorIs(t, err, storage.ErrAlreadyPending):
				results["conflict"]++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, results["ok"])
	assert.Equal(t, 9, results["conflict"])
}

func TestSweepRepo_Transitions(t *testing.T) {
	repo := NewSweepRepo(testDB(t))
	ctx := context.Background()

	rec := record("w-" + uuid.NewString())
	require.NoError(t, repo.InsertPending(ctx, rec))

	active, err := repo.Active(ctx, rec.Tuple())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 0, active.Amount.Cmp(rec.Amount), "NUMERIC must round-trip exactly")

	require.NoError(t, repo.MarkSubmitted(ctx, rec.ID, "0xhash", big.NewInt(42)))
	assert.ErrorIs(t, repo.MarkConfirmed(ctx, uuid.NewString()), storage.ErrNotFound)
	assert.ErrorIs(t, repo.MarkSubmitted(ctx, rec.ID, "0xhash", nil), storage.ErrInvalidTransition)

	subs, err := repo.ListSubmittedBefore(ctx, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	found := false
	for _, s := range subs {
		found = found || s.ID == rec.ID
	}
	assert.True(t, found)

	require.NoError(t, repo.MarkConfirmed(ctx, rec.ID))
	latest, err := repo.LatestForTuple(ctx, rec.Tuple())
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusConfirmed, latest.Status)
	assert.Equal(t, int64(42), latest.Amount.Int64())

	active, err = repo.Active(ctx, rec.Tuple())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestConfigRepo_RoundTrip(t *testing.T) {
	repo := NewConfigRepo(testDB(t))
	ctx := context.Background()

	cfg, err := repo.Get(ctx)
	require.NoError(t, err)

	cfg.ThresholdUSD = decimal.RequireFromString("10.00")
	cfg.EVMDestinationAddress = "0xDEST"
	cfg.UpdatedBy = "test"
	cfg.UpdatedAt = time.Time{}
	require.NoError(t, repo.Update(ctx, cfg))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.ThresholdUSD.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "0xDEST", got.EVMDestinationAddress)
	assert.Equal(t, "test", got.UpdatedBy)
}
