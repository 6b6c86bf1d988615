package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/registry"
	"price-alert-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// scriptedSource replays one step per Fetch and repeats the last step forever.
type scriptedSource struct {
	mu    sync.Mutex
	steps []func() (float64, error)
	calls int
}

func prices(values ...float64) *scriptedSource {
	s := &scriptedSource{}
	for _, v := range values {
		v := v
		s.steps = append(s.steps, func() (float64, error) { return v, nil })
	}
	return s
}

func (s *scriptedSource) Fetch(_ context.Context, _ string) (float64, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[i]
	s.mu.Unlock()
	return step()
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu   sync.Mutex
	sent []types.Notification
	err  error
}

func (s *recordingSink) Notify(_ context.Context, n types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSink) Sent() []types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Notification(nil), s.sent...)
}

type recordingRequester struct {
	mu       sync.Mutex
	requests []types.RemovalRequest
}

func (r *recordingRequester) Request(req types.RemovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return nil
}

func (r *recordingRequester) Requests() []types.RemovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.RemovalRequest(nil), r.requests...)
}

type refusingClaimer struct{}

func (refusingClaimer) BeginRemoval(string, string) bool { return false }

var testConfig = Config{PollInterval: time.Millisecond, FetchTimeout: time.Second, NotifyTimeout: time.Second}

func register(t *testing.T, reg *registry.Registry, symbol string, threshold float64, direction types.Direction) *registry.Handle {
	t.Helper()
	h, err := reg.Insert(types.AlertRecord{Symbol: symbol, Threshold: threshold, Direction: direction})
	if err != nil {
		t.Fatalf("register %s: %v", symbol, err)
	}
	return h
}

func runWithTimeout(t *testing.T, w *Watcher, ctx context.Context) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not terminate")
	}
}

func TestFiresAtThresholdInclusive(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "AAPL", 150, types.Above)
	sink := &recordingSink{}
	requester := &recordingRequester{}

	w := New(h, prices(150), sink, reg, requester, nil, testConfig)
	runWithTimeout(t, w, context.Background())

	sent := sink.Sent()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	want := types.Notification{Symbol: "AAPL", Threshold: 150, Price: 150, Direction: types.Above}
	if sent[0] != want {
		t.Fatalf("notification = %+v, want %+v", sent[0], want)
	}

	reqs := requester.Requests()
	if len(reqs) != 1 || reqs[0].Reason != types.ReasonTriggered || reqs[0].WatchID != h.WatchID {
		t.Fatalf("requests = %+v, want one triggered request for %s", reqs, h.WatchID)
	}
	if w.State() != Terminated {
		t.Fatalf("state = %v, want terminated", w.State())
	}
	if got, _ := reg.Get("AAPL"); got.Status != types.Removing {
		t.Fatalf("registry status = %v, want removing", got.Status)
	}
}

func TestDoesNotFireJustBelowThreshold(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "AAPL", 150, types.Above)
	source := prices(149.99)
	sink := &recordingSink{}
	requester := &recordingRequester{}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(h, source, sink, reg, requester, nil, testConfig)
	go func() {
		for source.Calls() < 5 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	runWithTimeout(t, w, ctx)

	if len(sink.Sent()) != 0 {
		t.Fatalf("notifications = %d, want 0", len(sink.Sent()))
	}
	if len(requester.Requests()) != 0 {
		t.Fatalf("requests = %d, want 0", len(requester.Requests()))
	}
	select {
	case <-h.Exited():
	default:
		t.Fatal("handle not marked exited")
	}
}

func TestBelowScenarioFiresOnSecondPoll(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "TSLA", 200, types.Below)
	source := prices(205, 198)
	sink := &recordingSink{}
	requester := &recordingRequester{}

	w := New(h, source, sink, reg, requester, nil, testConfig)
	runWithTimeout(t, w, context.Background())

	sent := sink.Sent()
	want := types.Notification{Symbol: "TSLA", Threshold: 200, Price: 198, Direction: types.Below}
	if len(sent) != 1 || sent[0] != want {
		t.Fatalf("notifications = %+v, want [%+v]", sent, want)
	}
	if source.Calls() != 2 {
		t.Fatalf("fetch calls = %d, want 2", source.Calls())
	}

	time.Sleep(10 * time.Millisecond)
	if source.Calls() != 2 {
		t.Fatalf("fetch calls after firing = %d, want 2", source.Calls())
	}
}

func TestTransientFailuresKeepPolling(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "BTC", 60000, types.Above)
	source := &scriptedSource{steps: []func() (float64, error){
		func() (float64, error) { return 0, types.ErrSourceUnavailable },
		func() (float64, error) { panic("malformed response") },
		func() (float64, error) { return 61000, nil },
	}}
	sink := &recordingSink{}
	requester := &recordingRequester{}
	m := metrics.New(prometheus.NewRegistry())

	w := New(h, source, sink, reg, requester, m, testConfig)
	runWithTimeout(t, w, context.Background())

	if len(sink.Sent()) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sink.Sent()))
	}
	if got := testutil.ToFloat64(m.PriceFetchFailures); got != 2 {
		t.Fatalf("price_fetch_failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AlertsFired); got != 1 {
		t.Fatalf("alerts_fired = %v, want 1", got)
	}
}

func TestNotificationFailureStillRequestsRemoval(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "ETH", 3000, types.Below)
	sink := &recordingSink{err: errors.New("telegram down")}
	requester := &recordingRequester{}
	m := metrics.New(prometheus.NewRegistry())

	w := New(h, prices(2900), sink, reg, requester, m, testConfig)
	runWithTimeout(t, w, context.Background())

	if len(requester.Requests()) != 1 {
		t.Fatalf("requests = %d, want 1", len(requester.Requests()))
	}
	if got := testutil.ToFloat64(m.NotificationFailures); got != 1 {
		t.Fatalf("notification_failures = %v, want 1", got)
	}
}

func TestCancellationStopsWithoutNotifying(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "MSFT", 500, types.Above)
	source := prices(400)
	sink := &recordingSink{}
	requester := &recordingRequester{}

	w := New(h, source, sink, reg, requester, nil, Config{PollInterval: time.Hour})
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	if !reg.BeginRemoval("MSFT", "") {
		t.Fatal("cancel claim failed")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher ignored stop signal")
	}

	if source.Calls() != 0 {
		t.Fatalf("fetch calls = %d, want 0", source.Calls())
	}
	if len(sink.Sent()) != 0 || len(requester.Requests()) != 0 {
		t.Fatal("cancelled watcher notified or requested removal")
	}
}

func TestLostClaimDoesNotNotify(t *testing.T) {
	reg := registry.New()
	h := register(t, reg, "SOL", 100, types.Above)
	sink := &recordingSink{}
	requester := &recordingRequester{}

	w := New(h, prices(120), sink, refusingClaimer{}, requester, nil, testConfig)
	runWithTimeout(t, w, context.Background())

	if len(sink.Sent()) != 0 || len(requester.Requests()) != 0 {
		t.Fatal("watcher fired without winning the removal claim")
	}
}
