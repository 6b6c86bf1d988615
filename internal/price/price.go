package price

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"price-alert-bot/internal/types"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Source returns the current USD price of a symbol.
type Source interface {
	Fetch(ctx context.Context, symbol string) (float64, error)
}

// Paprika looks prices up on CoinPaprika, resolving symbols to coin IDs once.
type Paprika struct {
	client *coinpaprika.Client

	idMutex   sync.RWMutex
	idMapping map[string]string
}

func NewPaprika(apiProKey string, timeout time.Duration) *Paprika {
	httpClient := &http.Client{Timeout: timeout}

	var client *coinpaprika.Client
	if apiProKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(apiProKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	return &Paprika{
		client:    client,
		idMapping: make(map[string]string),
	}
}

// Fetch returns when ctx is done even though the API client itself ignores contexts;
// the abandoned call is bounded by the HTTP client timeout.
func (p *Paprika) Fetch(ctx context.Context, symbol string) (float64, error) {
	type result struct {
		price float64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		price, err := p.lookup(symbol)
		ch <- result{price, err}
	}()

	select {
	case <-ctx.Done():
		return 0, errors.Wrapf(ctx.Err(), "price lookup for %s", symbol)
	case r := <-ch:
		return r.price, r.err
	}
}

func (p *Paprika) lookup(symbol string) (float64, error) {
	coinID, err := p.coinID(symbol)
	if err != nil {
		return 0, err
	}

	ticker, err := p.client.Tickers.GetByID(coinID, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return 0, errors.Wrapf(types.ErrSourceUnavailable, "ticker %s: %v", coinID, err)
	}

	quote, ok := ticker.Quotes["USD"]
	if !ok || quote.Price == nil {
		return 0, errors.Wrapf(types.ErrSourceUnavailable, "no USD price for %s", coinID)
	}
	return *quote.Price, nil
}

func (p *Paprika) coinID(symbol string) (string, error) {
	p.idMutex.RLock()
	id, exists := p.idMapping[symbol]
	p.idMutex.RUnlock()
	if exists {
		return id, nil
	}

	searchOpts := &coinpaprika.SearchOptions{
		Query:      symbol,
		Categories: "currencies",
		Modifier:   "symbol_search",
	}
	result, err := p.client.Search.Search(searchOpts)
	if err != nil {
		return "", errors.Wrapf(types.ErrSourceUnavailable, "search %s: %v", symbol, err)
	}

	id = bestMatch(symbol, result.Currencies)
	if id == "" {
		return "", errors.Wrapf(types.ErrSourceUnavailable, "unknown symbol %s", symbol)
	}

	log.Debugf("Best match for symbol '%s' is: %s", symbol, id)
	p.idMutex.Lock()
	p.idMapping[symbol] = id
	p.idMutex.Unlock()
	return id, nil
}

// bestMatch prefers an exact symbol match and falls back to the first ranked result.
func bestMatch(symbol string, coins []*coinpaprika.Coin) string {
	var first string
	for _, c := range coins {
		if c == nil || c.ID == nil {
			continue
		}
		if first == "" {
			first = *c.ID
		}
		if c.Symbol != nil && strings.EqualFold(*c.Symbol, symbol) {
			return *c.ID
		}
	}
	return first
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// Cache shares one upstream lookup per symbol between every watcher for ttl.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	pricesMutex sync.RWMutex
	prices      map[string]cachedPrice
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		prices: make(map[string]cachedPrice),
	}
}

func (c *Cache) Fetch(ctx context.Context, symbol string) (float64, error) {
	c.pricesMutex.RLock()
	cached, exists := c.prices[symbol]
	c.pricesMutex.RUnlock()
	if exists && c.now().Sub(cached.fetchedAt) < c.ttl {
		return cached.price, nil
	}

	price, err := c.source.Fetch(ctx, symbol)
	if err != nil {
		return 0, err
	}

	c.pricesMutex.Lock()
	c.prices[symbol] = cachedPrice{price: price, fetchedAt: c.now()}
	c.pricesMutex.Unlock()
	return price, nil
}

// LastPrice returns the most recent price seen for symbol, however old.
func (c *Cache) LastPrice(symbol string) (float64, time.Time, bool) {
	c.pricesMutex.RLock()
	defer c.pricesMutex.RUnlock()

	cached, exists := c.prices[symbol]
	return cached.price, cached.fetchedAt, exists
}
