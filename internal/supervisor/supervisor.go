package supervisor

import (
	"context"
	"sync"

	"price-alert-bot/internal/coordinator"
	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/registry"
	"price-alert-bot/internal/types"
	"price-alert-bot/internal/watcher"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// AlertStore is the durable side of the alert state.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert types.AlertRecord) error
	SaveAlert(ctx context.Context, alert types.AlertRecord) error
	DeleteAlert(ctx context.Context, symbol string) error
	GetAllAlerts(ctx context.Context) ([]types.AlertRecord, error)
	Close() error
}

// Sink delivers crossing notifications and removal confirmations to the user.
type Sink interface {
	watcher.NotificationSink
	coordinator.Confirmer
}

type Supervisor struct {
	store       AlertStore
	source      watcher.PriceSource
	sink        Sink
	metrics     *metrics.Metrics
	cfg         watcher.Config
	registry    *registry.Registry
	coordinator *coordinator.Coordinator

	mu       sync.Mutex
	started  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	watchers sync.WaitGroup
}

func New(store AlertStore, source watcher.PriceSource, sink Sink, m *metrics.Metrics, cfg watcher.Config) *Supervisor {
	reg := registry.New()
	return &Supervisor{
		store:    store,
		source:   source,
		sink:     sink,
		metrics:  m,
		cfg:      cfg,
		registry: reg,
		coordinator: coordinator.New(reg, store,
			coordinator.WithConfirmer(sink),
			coordinator.WithMetrics(m),
		),
	}
}

// Startup restores persisted alerts and starts one watcher per alert. A store that cannot be read
// is returned as an error; callers treat it as fatal.
func (s *Supervisor) Startup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrClosed
	}
	if s.started {
		return errors.New("alert supervisor already started")
	}

	alerts, err := s.store.GetAllAlerts(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load alerts")
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("Loaded alerts: %s", spew.Sdump(alerts))
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.coordinator.Start()
	s.started = true

	for _, alert := range alerts {
		alert, err := s.canonicalize(ctx, alert)
		if err != nil {
			log.Errorf("Skipping stored alert %q: %v", alert.Symbol, err)
			continue
		}

		h, err := s.registry.Insert(alert)
		if err != nil {
			log.Errorf("Skipping stored alert %s: %v", alert.Symbol, err)
			continue
		}
		s.metrics.AlertLoaded()
		s.spawn(h)
	}

	log.Infof("Alert supervisor started with %d alerts.", s.registry.Len())
	return nil
}

// canonicalize rewrites records persisted with a non-canonical symbol or direction.
// The canonical row is written before the old one is deleted. A canonical row that already
// exists in the store wins and the non-canonical one is dropped.
func (s *Supervisor) canonicalize(ctx context.Context, stored types.AlertRecord) (types.AlertRecord, error) {
	direction, err := types.ParseDirection(string(stored.Direction))
	if err != nil {
		return stored, err
	}
	alert, err := types.NewAlertRecord(stored.Symbol, stored.Threshold, direction)
	if err != nil {
		return stored, err
	}
	if !stored.CreatedAt.IsZero() {
		alert.CreatedAt = stored.CreatedAt
	}
	if alert.Symbol == stored.Symbol {
		if alert.Direction != stored.Direction {
			if err := s.store.SaveAlert(ctx, alert); err != nil {
				return stored, err
			}
		}
		return alert, nil
	}

	if err := s.store.InsertAlert(ctx, alert); err != nil {
		if !errors.Is(err, types.ErrDuplicateKey) {
			return stored, err
		}
		if delErr := s.store.DeleteAlert(ctx, stored.Symbol); delErr != nil {
			log.Errorf("Failed to drop stored alert %q: %v", stored.Symbol, delErr)
		}
		return stored, errors.Wrapf(err, "%q duplicates stored alert %s, dropped", stored.Symbol, alert.Symbol)
	}
	if err := s.store.DeleteAlert(ctx, stored.Symbol); err != nil {
		log.Errorf("Failed to delete rewritten alert %q: %v", stored.Symbol, err)
	}
	log.Infof("Rewrote stored alert %q as %s", stored.Symbol, alert.Symbol)
	return alert, nil
}

// Create persists, registers and starts watching a new alert.
func (s *Supervisor) Create(ctx context.Context, symbol string, threshold float64, direction types.Direction) (types.AlertRecord, error) {
	alert, err := types.NewAlertRecord(symbol, threshold, direction)
	if err != nil {
		return types.AlertRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.closed {
		return types.AlertRecord{}, types.ErrClosed
	}
	if _, exists := s.registry.Get(alert.Symbol); exists {
		return types.AlertRecord{}, errors.Wrapf(types.ErrDuplicateKey, "alert for %s already exists", alert.Symbol)
	}

	if err := s.store.InsertAlert(ctx, alert); err != nil {
		return types.AlertRecord{}, err
	}

	h, err := s.registry.Insert(alert)
	if err != nil {
		if delErr := s.store.DeleteAlert(ctx, alert.Symbol); delErr != nil {
			log.Errorf("Failed to roll back stored alert %s: %v", alert.Symbol, delErr)
		}
		return types.AlertRecord{}, err
	}

	s.metrics.AlertCreated()
	s.spawn(h)
	log.Infof("Alert set for %s %s %v", alert.Symbol, alert.Direction, alert.Threshold)
	return alert, nil
}

// Cancel asks the coordinator to remove an alert and returns without waiting for it.
func (s *Supervisor) Cancel(symbol string) error {
	symbol = types.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.closed {
		return types.ErrClosed
	}
	snap, ok := s.registry.Get(symbol)
	if !ok || !s.registry.BeginRemoval(symbol, snap.WatchID) {
		return errors.Wrapf(types.ErrNotFound, "no active alert for %s", symbol)
	}

	return s.coordinator.Request(types.RemovalRequest{
		Symbol:  symbol,
		WatchID: snap.WatchID,
		Reason:  types.ReasonCancelled,
	})
}

func (s *Supervisor) List() []registry.Snapshot {
	return s.registry.List()
}

// Shutdown stops every watcher, drains pending removals and closes the store.
// Alerts that are still active stay persisted for the next Startup.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.cancel()
		s.watchers.Wait()
	}
	s.coordinator.Close()

	if err := s.store.Close(); err != nil {
		return errors.Wrap(err, "failed to close alert store")
	}
	log.Info("Alert supervisor stopped.")
	return nil
}

func (s *Supervisor) spawn(h *registry.Handle) {
	w := watcher.New(h, s.source, s.sink, s.registry, s.coordinator, s.metrics, s.cfg)
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		w.Run(s.ctx)
	}()
}
