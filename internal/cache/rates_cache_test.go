package cache

import (
	"context"
	"errors"
	"io"
	"testing"

	"card-ledger/internal/storages"
	"card-ledger/internal/storages/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func triple(usdUah, btcUsd, ethUsd string) storages.RateTriple {
	return storages.RateTriple{
		USDToUAH: decimal.RequireFromString(usdUah),
		BTCToUSD: decimal.RequireFromString(btcUsd),
		ETHToUSD: decimal.RequireFromString(ethUsd),
	}
}

// failingStore отказывает в записи снимков
type failingStore struct {
	storages.SnapshotStore
}

func (failingStore) SaveSnapshot(context.Context, storages.RateTriple) (*storages.RateSnapshot, error) {
	return nil, errors.New("database is down")
}

func TestRatesCache_EmptyUntilRecorded(t *testing.T) {
	c := NewRatesCache(nil, quietLogger())

	_, ok := c.Latest()
	assert.False(t, ok)
	assert.True(t, c.IsEmpty())
	_, ok = c.Age()
	assert.False(t, ok)

	_, err := c.Record(context.Background(), triple("40.5", "60000", "3000"))
	require.NoError(t, err)

	snapshot, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "40.5", snapshot.USDToUAH.String())
	assert.False(t, c.IsEmpty())
}

func TestRatesCache_RejectsInvalidAndKeepsLastGood(t *testing.T) {
	c := NewRatesCache(nil, quietLogger())
	ctx := context.Background()

	_, err := c.Record(ctx, triple("40.5", "60000", "3000"))
	require.NoError(t, err)

	_, err = c.Record(ctx, triple("0", "60000", "3000"))
	assert.Error(t, err)

	snapshot, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "40.5", snapshot.USDToUAH.String())
}

func TestRatesCache_PersistsAndWarms(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	first := NewRatesCache(store, quietLogger())
	recorded, err := first.Record(ctx, triple("41", "65000", "3100"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), recorded.ID)

	second := NewRatesCache(store, quietLogger())
	require.NoError(t, second.Warm(ctx))

	snapshot, ok := second.Latest()
	require.True(t, ok)
	assert.Equal(t, recorded.ID, snapshot.ID)
	assert.Equal(t, "65000", snapshot.BTCToUSD.String())
}

func TestRatesCache_WarmWithoutSnapshots(t *testing.T) {
	c := NewRatesCache(memory.New(), quietLogger())
	require.NoError(t, c.Warm(context.Background()))
	assert.True(t, c.IsEmpty())
}

func TestRatesCache_ServesFromMemoryWhenStoreFails(t *testing.T) {
	c := NewRatesCache(failingStore{}, quietLogger())

	_, err := c.Record(context.Background(), triple("40", "60000", "3000"))
	require.NoError(t, err)

	snapshot, ok := c.Latest()
	require.True(t, ok)
	assert.Zero(t, snapshot.ID)
	assert.Equal(t, "40", snapshot.USDToUAH.String())
}
