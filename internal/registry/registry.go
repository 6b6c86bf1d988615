// Package registry holds the alerts that are live in this process.
//
// Every method takes the same mutex, and the map is only ever exposed as copies. Inserts come from
// the supervisor and deletes only from the removal coordinator; watchers and cancellations can
// only move a record from Active to Removing through BeginRemoval.
package registry

import (
	"sort"
	"sync"

	"price-alert-bot/internal/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Snapshot is a point-in-time copy of a registered alert.
type Snapshot struct {
	WatchID string
	Record  types.AlertRecord
	Status  types.Status
}

// Handle links one registered alert to the watcher goroutine serving it.
type Handle struct {
	WatchID string
	Record  types.AlertRecord

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// Stopped is closed once the alert has left Active.
func (h *Handle) Stopped() <-chan struct{} { return h.stop }

// Exit marks the watcher as finished. Safe to call more than once.
func (h *Handle) Exit() { h.doneOnce.Do(func() { close(h.done) }) }

// Exited is closed after Exit.
func (h *Handle) Exited() <-chan struct{} { return h.done }

func (h *Handle) signalStop() { h.stopOnce.Do(func() { close(h.stop) }) }

type slot struct {
	handle *Handle
	status types.Status
}

type Registry struct {
	mu     sync.Mutex
	alerts map[string]*slot
}

func New() *Registry {
	return &Registry{alerts: make(map[string]*slot)}
}

// Insert registers an Active alert, failing with types.ErrDuplicateKey if the symbol is present.
func (r *Registry) Insert(record types.AlertRecord) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.alerts[record.Symbol]; exists {
		return nil, errors.Wrapf(types.ErrDuplicateKey, "symbol %s", record.Symbol)
	}

	h := &Handle{
		WatchID: uuid.NewString(),
		Record:  record,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.alerts[record.Symbol] = &slot{handle: h, status: types.Active}
	return h, nil
}

// BeginRemoval moves the alert from Active to Removing and signals its watcher to stop.
// Only the first caller for a given record gets true. An empty watchID matches any generation.
func (r *Registry) BeginRemoval(symbol, watchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.alerts[symbol]
	if !ok || s.status != types.Active {
		return false
	}
	if watchID != "" && s.handle.WatchID != watchID {
		return false
	}
	s.status = types.Removing
	s.handle.signalStop()
	return true
}

// Delete drops the alert and returns its handle, or types.ErrNotFound.
func (r *Registry) Delete(symbol string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.alerts[symbol]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "symbol %s", symbol)
	}
	delete(r.alerts, symbol)
	s.status = types.Removed
	s.handle.signalStop()
	return s.handle, nil
}

func (r *Registry) Get(symbol string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.alerts[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// List returns a copy of every registered alert sorted by symbol.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Snapshot, 0, len(r.alerts))
	for _, s := range r.alerts {
		list = append(list, s.snapshot())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Record.Symbol < list[j].Record.Symbol
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func (s *slot) snapshot() Snapshot {
	return Snapshot{
		WatchID: s.handle.WatchID,
		Record:  s.handle.Record,
		Status:  s.status,
	}
}
