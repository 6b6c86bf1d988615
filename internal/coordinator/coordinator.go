// Package coordinator serializes every alert removal through a single consumer goroutine.
//
// Watchers that fired and user cancellations both enqueue a RemovalRequest. The consumer deletes the
// alert from the registry, waits for its watcher to exit, deletes it from the store and emits a
// confirmation, one request at a time. A second request for the same symbol finds it already gone
// and is ignored.
package coordinator

import (
	"context"
	"sync"
	"time"

	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/registry"
	"price-alert-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Deleter interface {
	DeleteAlert(ctx context.Context, symbol string) error
}

// Confirmer reports a processed removal to the user.
type Confirmer interface {
	Confirm(ctx context.Context, r types.Removal) error
}

const (
	defaultQueueSize    = 64
	defaultExitTimeout  = 30 * time.Second
	defaultStoreTimeout = 10 * time.Second
)

type Option func(*Coordinator)

func WithConfirmer(c Confirmer) Option {
	return func(co *Coordinator) { co.confirmer = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// WithExitTimeout bounds how long a removal waits for the watcher to return.
func WithExitTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.exitTimeout = d
		}
	}
}

type Coordinator struct {
	registry    *registry.Registry
	store       Deleter
	confirmer   Confirmer
	metrics     *metrics.Metrics
	exitTimeout time.Duration

	requests chan types.RemovalRequest
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	start    sync.Once
}

func New(reg *registry.Registry, store Deleter, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:    reg,
		store:       store,
		exitTimeout: defaultExitTimeout,
		requests:    make(chan types.RemovalRequest, defaultQueueSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the consumer goroutine. Calling it again has no effect.
func (c *Coordinator) Start() {
	c.start.Do(func() {
		go c.run()
		log.Debug("Removal coordinator started.")
	})
}

// Request enqueues a removal. It fails with types.ErrClosed once Close was called.
func (c *Coordinator) Request(req types.RemovalRequest) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.Wrapf(types.ErrClosed, "removal of %s", req.Symbol)
	}
	c.requests <- req
	return nil
}

// Close stops accepting requests and blocks until every queued request has been applied.
func (c *Coordinator) Close() {
	c.Start()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.requests)
	}
	c.mu.Unlock()

	<-c.done
	log.Debug("Removal coordinator drained.")
}

func (c *Coordinator) run() {
	defer close(c.done)
	for req := range c.requests {
		c.apply(req)
	}
}

func (c *Coordinator) apply(req types.RemovalRequest) {
	logger := log.WithFields(log.Fields{
		"symbol":   req.Symbol,
		"watch_id": req.WatchID,
		"reason":   req.Reason,
	})

	h, err := c.registry.Delete(req.Symbol)
	if err != nil {
		logger.Debugf("Ignoring removal request: %v", err)
		return
	}

	select {
	case <-h.Exited():
	case <-time.After(c.exitTimeout):
		logger.Warnf("Watcher did not exit within %s", c.exitTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreTimeout)
	defer cancel()

	removal := types.Removal{Request: req, Record: h.Record}
	if err := c.store.DeleteAlert(ctx, req.Symbol); err != nil {
		removal.Err = err
		logger.Errorf("Failed to delete alert from store: %v", err)
	}

	c.metrics.AlertRemoved(req.Reason)
	logger.Infof("Alert for %s removed.", req.Symbol)

	if c.confirmer != nil {
		if err := c.confirmer.Confirm(ctx, removal); err != nil {
			logger.Warnf("Failed to confirm removal: %v", err)
		}
	}
}
