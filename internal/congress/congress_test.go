package congress

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "congress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestClientTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/live/housetrading", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"Representative":"A","Ticker":"nvda","Transaction":"Purchase","Range":"$1,001 - $15,000","Date":"2024-03-01T00:00:00"},
			{"Representative":"B","Ticker":"","Transaction":"Sale","Date":"2024-03-01"},
			{"Representative":"C","Ticker":"MSFT","Transaction":"Sale","Date":"not-a-date"}
		]`))
	}))
	defer srv.Close()

	trades, err := NewClient(srv.URL, "secret").Trades(context.Background(), House)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "NVDA", trades[0].Ticker)
	assert.Equal(t, "A", trades[0].Member)
	assert.Equal(t, day("2024-03-01"), trades[0].Date)
}

func TestClientRequiresToken(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "").Trades(context.Background(), House)
	assert.ErrorContains(t, err, "token")
}

func TestClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "x").Trades(context.Background(), Senate)
	assert.ErrorContains(t, err, "quiver error 401")
}

func TestStoreUpsertIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	trades := []Trade{
		{Chamber: House, Member: "A", Ticker: "NVDA", Transaction: TransactionPurchase, Date: day("2024-03-01")},
		{Chamber: House, Member: "B", Ticker: "NVDA", Transaction: TransactionPurchase, Date: day("2024-03-02")},
	}
	n, err := s.Upsert(ctx, trades)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Upsert(ctx, trades)
	require.NoError(t, err)
	assert.Zero(t, n)

	latest, ok, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, day("2024-03-02"), latest)
}

func TestStoreLatestEmpty(t *testing.T) {
	_, ok, err := openStore(t).Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePurchaseCountsWindow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, []Trade{
		{Chamber: House, Member: "A", Ticker: "NVDA", Transaction: TransactionPurchase, Date: day("2024-03-01")},
		{Chamber: House, Member: "B", Ticker: "NVDA", Transaction: TransactionPurchase, Date: day("2024-03-10")},
		{Chamber: House, Member: "C", Ticker: "NVDA", Transaction: "Sale", Date: day("2024-03-10")},
		{Chamber: House, Member: "D", Ticker: "AAPL", Transaction: TransactionPurchase, Date: day("2024-01-01")},
	})
	require.NoError(t, err)

	counts, err := s.PurchaseCounts(ctx, day("2024-02-15"), day("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"NVDA": 2}, counts)
}

type fakeFetcher struct {
	calls  int
	trades []Trade
	err    error
}

func (f *fakeFetcher) Trades(_ context.Context, _ Chamber) ([]Trade, error) {
	f.calls++
	return f.trades, f.err
}

func TestSourceRefreshesOncePerDay(t *testing.T) {
	s := openStore(t)
	f := &fakeFetcher{trades: []Trade{
		{Chamber: House, Member: "A", Ticker: "NVDA", Transaction: TransactionPurchase, Date: day("2024-03-01")},
	}}
	src := NewSource(f, s, zerolog.Nop())
	now := day("2024-03-02").Add(9 * time.Hour)
	src.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, src.Refresh(ctx))
	require.NoError(t, src.Refresh(ctx))
	assert.Equal(t, 1, f.calls)

	now = now.Add(25 * time.Hour)
	require.NoError(t, src.Refresh(ctx))
	assert.Equal(t, 2, f.calls)

	counts, err := src.PurchaseCounts(ctx, day("2024-03-05"), 28)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["NVDA"])
}

func TestSourceRefreshFailureRetriesNextCycle(t *testing.T) {
	s := openStore(t)
	f := &fakeFetcher{err: errors.New("boom")}
	src := NewSource(f, s, zerolog.Nop())
	ctx := context.Background()

	assert.Error(t, src.Refresh(ctx))
	assert.Error(t, src.Refresh(ctx))
	assert.Equal(t, 2, f.calls)
}

func TestSourceRefreshLogsNewestStoredTrade(t *testing.T) {
	s := openStore(t)
	f := &fakeFetcher{trades: []Trade{
		{Chamber: House, Member: "A", Ticker: "NVDA", Transaction: TransactionPurchase, Date: day("2024-03-01")},
		{Chamber: House, Member: "B", Ticker: "MSFT", Transaction: TransactionPurchase, Date: day("2024-02-20")},
	}}
	var buf bytes.Buffer
	src := NewSource(f, s, zerolog.New(&buf))
	src.now = func() time.Time { return day("2024-03-02") }

	require.NoError(t, src.Refresh(context.Background()))
	assert.Contains(t, buf.String(), `"newest_trade":"2024-03-01"`)
	assert.Contains(t, buf.String(), `"new_trades":2`)
}
