package watcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/registry"
	"price-alert-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type PriceSource interface {
	Fetch(ctx context.Context, symbol string) (float64, error)
}

type NotificationSink interface {
	Notify(ctx context.Context, n types.Notification) error
}

// Claimer performs the Active -> Removing transition for a record.
type Claimer interface {
	BeginRemoval(symbol, watchID string) bool
}

type RemovalRequester interface {
	Request(req types.RemovalRequest) error
}

type State int32

const (
	Polling State = iota
	Firing
	Terminated
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Firing:
		return "firing"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

const (
	DefaultPollInterval  = 30 * time.Second
	DefaultFetchTimeout  = 10 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
)

type Config struct {
	PollInterval  time.Duration
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	return c
}

// Watcher polls the price of one alert's symbol until the threshold is crossed or it is stopped.
type Watcher struct {
	handle    *registry.Handle
	source    PriceSource
	sink      NotificationSink
	claimer   Claimer
	requester RemovalRequester
	metrics   *metrics.Metrics
	cfg       Config
	state     atomic.Int32
	logger    *log.Entry
}

func New(h *registry.Handle, source PriceSource, sink NotificationSink, claimer Claimer, requester RemovalRequester, m *metrics.Metrics, cfg Config) *Watcher {
	return &Watcher{
		handle:    h,
		source:    source,
		sink:      sink,
		claimer:   claimer,
		requester: requester,
		metrics:   m,
		cfg:       cfg.normalized(),
		logger: log.WithFields(log.Fields{
			"symbol":   h.Record.Symbol,
			"watch_id": h.WatchID,
		}),
	}
}

func (w *Watcher) State() State { return State(w.state.Load()) }

// Run blocks until the alert fires, the handle is stopped or ctx is done.
// The handle is marked exited on return.
func (w *Watcher) Run(ctx context.Context) {
	defer w.handle.Exit()
	defer w.state.Store(int32(Terminated))

	// Notifications must outlive the stop signal that a successful claim raises.
	notifyParent := context.WithoutCancel(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.handle.Stopped():
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.Debugf("Watching %s %s %v every %s", w.handle.Record.Symbol, w.handle.Record.Direction, w.handle.Record.Threshold, w.cfg.PollInterval)

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Watcher stopped")
			return
		case <-timer.C:
		}

		price, ok := w.poll(ctx)
		if ok && w.handle.Record.Direction.Crossed(price, w.handle.Record.Threshold) {
			w.fire(notifyParent, price)
			return
		}
		timer.Reset(w.cfg.PollInterval)
	}
}

// poll fetches one price. Every failure, including a panic in the source, is logged and swallowed.
func (w *Watcher) poll(ctx context.Context) (price float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.PriceFetchFailed()
			w.logger.Warnf("Recovered from panic while fetching price: %v", r)
			ok = false
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	price, err := w.source.Fetch(fetchCtx, w.handle.Record.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		w.metrics.PriceFetchFailed()
		w.logger.Warnf("Price check failed: %v", err)
		return 0, false
	}

	w.logger.Debugf("Checking %s | Threshold: %v | Current: %v", w.handle.Record.Direction, w.handle.Record.Threshold, price)
	return price, true
}

func (w *Watcher) fire(ctx context.Context, price float64) {
	rec := w.handle.Record
	if !w.claimer.BeginRemoval(rec.Symbol, w.handle.WatchID) {
		w.logger.Debug("Alert was removed before it could fire")
		return
	}
	w.state.Store(int32(Firing))
	w.metrics.AlertFired()
	w.logger.Infof("ALERT: %s price is %s %v (current: %v)", rec.Symbol, rec.Direction, rec.Threshold, price)

	if err := w.notify(ctx, price); err != nil {
		w.metrics.NotificationFailed()
		w.logger.Warn(err)
	}

	err := w.requester.Request(types.RemovalRequest{
		Symbol:  rec.Symbol,
		WatchID: w.handle.WatchID,
		Reason:  types.ReasonTriggered,
		Price:   price,
	})
	if err != nil {
		w.logger.Errorf("Failed to request removal: %v", err)
	}
}

func (w *Watcher) notify(ctx context.Context, price float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(types.ErrNotificationFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.NotifyTimeout)
	defer cancel()

	rec := w.handle.Record
	if err := w.sink.Notify(ctx, types.Notification{
		Symbol:    rec.Symbol,
		Threshold: rec.Threshold,
		Price:     price,
		Direction: rec.Direction,
	}); err != nil {
		return errors.Wrapf(types.ErrNotificationFailed, "%s: %v", rec.Symbol, err)
	}
	return nil
}
