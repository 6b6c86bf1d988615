package price

import (
	"context"
	"testing"
	"time"

	"price-alert-bot/internal/types"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
)

type countingSource struct {
	price float64
	err   error
	calls int
}

func (s *countingSource) Fetch(context.Context, string) (float64, error) {
	s.calls++
	return s.price, s.err
}

func TestCacheServesFreshPrices(t *testing.T) {
	source := &countingSource{price: 101.5}
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	cache := NewCache(source, 15*time.Second)
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		got, err := cache.Fetch(context.Background(), "BTC")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if got != 101.5 {
			t.Fatalf("price = %v, want 101.5", got)
		}
	}
	if source.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", source.calls)
	}

	now = now.Add(16 * time.Second)
	source.price = 99
	got, err := cache.Fetch(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fetch after ttl: %v", err)
	}
	if got != 99 || source.calls != 2 {
		t.Fatalf("price = %v after %d calls, want 99 after 2", got, source.calls)
	}

	last, at, ok := cache.LastPrice("BTC")
	if !ok || last != 99 || !at.Equal(now) {
		t.Fatalf("last price = %v at %v (%v), want 99 at %v", last, at, ok, now)
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	source := &countingSource{err: types.ErrSourceUnavailable}
	cache := NewCache(source, time.Minute)

	if _, err := cache.Fetch(context.Background(), "ETH"); !errors.Is(err, types.ErrSourceUnavailable) {
		t.Fatalf("fetch error = %v, want ErrSourceUnavailable", err)
	}
	if _, _, ok := cache.LastPrice("ETH"); ok {
		t.Fatal("failure was cached")
	}

	source.err = nil
	source.price = 2500
	if got, err := cache.Fetch(context.Background(), "ETH"); err != nil || got != 2500 {
		t.Fatalf("fetch = %v, %v, want 2500", got, err)
	}
}

func TestBestMatchPrefersExactSymbol(t *testing.T) {
	str := func(s string) *string { return &s }
	coins := []*coinpaprika.Coin{
		nil,
		{ID: str("btcb-bitcoin-bep2"), Symbol: str("BTCB")},
		{ID: str("btc-bitcoin"), Symbol: str("BTC")},
	}

	if got := bestMatch("btc", coins); got != "btc-bitcoin" {
		t.Fatalf("bestMatch = %q, want btc-bitcoin", got)
	}
	if got := bestMatch("XYZ", coins); got != "btcb-bitcoin-bep2" {
		t.Fatalf("bestMatch fallback = %q, want first result", got)
	}
	if got := bestMatch("XYZ", nil); got != "" {
		t.Fatalf("bestMatch empty = %q, want empty", got)
	}
}
