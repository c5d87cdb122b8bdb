package state

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratbot/internal/asset"
)

func TestRecordCycleCadence(t *testing.T) {
	s := NewStore("buy_the_dip")
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	var rebalanced []int
	for i := 0; i < 9; i++ {
		due := s.Snapshot().Due(4)
		if due {
			rebalanced = append(rebalanced, i)
		}
		s.RecordCycle(now.AddDate(0, 0, i), due)
	}
	assert.Equal(t, []int{0, 4, 8}, rebalanced)
	assert.True(t, s.Snapshot().Due(1))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore("x")
	s.SetOpenOrders(map[string]OpenOrder{"a": {ClientOrderID: "a"}})
	snap := s.Snapshot()
	snap.OpenOrders["b"] = OpenOrder{}
	assert.Len(t, s.Snapshot().OpenOrders, 1)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	s := NewStore("congress")
	s.SetPortfolioValue(decimal.NewFromInt(10000))
	s.SetPositions(map[string]Position{"NVDA": {Instrument: asset.NewStock("NVDA"), Qty: decimal.RequireFromString("3.5")}})
	s.RecordCycle(now, true)
	require.NoError(t, s.Save(path))

	loaded := NewStore("congress")
	require.NoError(t, loaded.Load(path))
	snap := loaded.Snapshot()
	assert.True(t, snap.PortfolioValue.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "3.5", snap.Positions["NVDA"].Qty.String())
	assert.True(t, snap.LastRebalance.Equal(now))
	assert.Equal(t, 1, snap.CyclesSinceRebalance)
	assert.NotNil(t, snap.OpenOrders)
}

func TestLoadRejectsOtherStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, NewStore("congress").Save(path))
	assert.ErrorContains(t, NewStore("momentum").Load(path), "congress")
}

func TestLoadMissingFile(t *testing.T) {
	err := NewStore("x").Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
