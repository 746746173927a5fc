package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
	"github.com/thebeacon-app/beacon-alerts/internal/notify"
	"github.com/thebeacon-app/beacon-alerts/internal/source"
	"github.com/thebeacon-app/beacon-alerts/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubAdapter serves canned candidates or an error, optionally hanging
// until its context is cancelled.
type stubAdapter struct {
	name  models.Source
	cands []models.Candidate
	err   error
	hang  bool
}

func (a *stubAdapter) Name() models.Source { return a.name }

func (a *stubAdapter) Fetch(ctx context.Context, filter *source.CityFilter) ([]models.Candidate, error) {
	if a.hang {
		<-ctx.Done()
		return nil, source.AsFailure(a.name, reasonOf(ctx), ctx.Err())
	}
	if a.err != nil {
		return nil, a.err
	}
	out := make([]models.Candidate, 0, len(a.cands))
	for _, c := range a.cands {
		if filter.Matches(c.Areas) {
			out = append(out, c)
		}
	}
	return out, nil
}

func reasonOf(ctx context.Context) source.FailureReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return source.ReasonTimeout
	}
	return source.ReasonTransport
}

// memStore is an in-memory AlertStore with a write counter so tests can
// assert the search path never mutates it.
type memStore struct {
	mu     sync.Mutex
	byKey  map[string]*models.Alert
	writes int
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]*models.Alert)}
}

func (s *memStore) UpsertByKey(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if prev, ok := s.byKey[a.DedupKey]; ok {
		a.ID = prev.ID
		a.NotificationsSent = prev.NotificationsSent
	}
	cp := *a
	s.byKey[a.DedupKey] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byKey {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) GetByKeys(_ context.Context, keys []string) (map[string]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.Alert)
	for _, k := range keys {
		if a, ok := s.byKey[k]; ok {
			cp := *a
			out[k] = &cp
		}
	}
	return out, nil
}

func (s *memStore) FindActive(_ context.Context, _ store.Filter) ([]models.Alert, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var alerts []models.Alert
	for _, a := range s.byKey {
		if a.IsActive {
			alerts = append(alerts, *a)
		}
	}
	return alerts, int64(len(alerts)), nil
}

func (s *memStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.byKey {
		if a.IsActive && a.Expired(now) {
			a.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *memStore) Update(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cp := *a
	s.byKey[a.DedupKey] = &cp
	return nil
}

func (s *memStore) SetActive(_ context.Context, _ string, _ bool) error { return nil }
func (s *memStore) SetVerified(_ context.Context, _ string) error      { return nil }

func (s *memStore) IncrementNotificationsSent(_ context.Context, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byKey {
		if a.ID == id {
			a.NotificationsSent += delta
		}
	}
	return nil
}

func (s *memStore) IncrementViews(_ context.Context, _ string) error { return nil }

func (s *memStore) Stats(_ context.Context) (*store.Stats, error) { return &store.Stats{}, nil }

func (s *memStore) AvailableCities(_ context.Context) ([]string, error) { return nil, nil }

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) get(key string) *models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key]
}

// recordingNotifier records every dispatch trigger.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	key       string
	escalated bool
}

func (n *recordingNotifier) Notify(_ context.Context, alert *models.Alert, escalated bool) (*notify.DeliveryReport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{key: alert.DedupKey, escalated: escalated})
	return &notify.DeliveryReport{AlertID: alert.ID, Recipients: 1, Delivered: 1}, nil
}

func (n *recordingNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testConfig() Config {
	return Config{
		Interval:       time.Minute,
		AdapterTimeout: 200 * time.Millisecond,
		SearchDeadline: 300 * time.Millisecond,
	}
}

func imdFlood(severity models.Severity) models.Candidate {
	return models.Candidate{
		NativeID:    "w-42",
		Source:      models.SourceIMD,
		Type:        models.TypeFlood,
		Severity:    severity,
		Title:       "Flood Warning for Chennai",
		Description: "Heavy rainfall, rivers rising.",
		Areas:       []models.Area{{City: "Chennai", State: "Tamil Nadu"}},
		IssuedAt:    time.Now().UTC(),
	}
}

func TestRunCycle_InsertAndNotify(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}
	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{adapter}, st, notifier)
	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, status.Inserted)
	assert.Zero(t, status.Updated)
	assert.True(t, status.Sources[models.SourceIMD].OK)

	stored := st.get("imd_w-42")
	require.NotNil(t, stored)
	assert.Equal(t, models.SeverityHigh, stored.Severity)
	assert.True(t, stored.IsActive)

	require.Equal(t, 1, notifier.callCount())
	assert.False(t, notifier.calls[0].escalated)
}

func TestRunCycle_IdenticalRescrapeIsIdempotent(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}
	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{adapter}, st, notifier)

	_, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	assert.Zero(t, status.Inserted)
	assert.Zero(t, status.Updated)
	assert.Equal(t, 1, status.Discarded)
	assert.Equal(t, 1, notifier.callCount(), "unchanged re-scrape must not re-notify")
}

func TestRunCycle_EscalationNotifiesOnce(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}
	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{adapter}, st, notifier)
	_, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	// Same event, severity raised.
	adapter.cands = []models.Candidate{imdFlood(models.SeverityCritical)}
	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, status.Updated)
	require.Equal(t, 2, notifier.callCount())
	assert.True(t, notifier.calls[1].escalated)
	assert.Equal(t, models.SeverityCritical, st.get("imd_w-42").Severity)

	// Re-scraped again unchanged: discard, no dispatch.
	status, err = o.RunCycle(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Discarded)
	assert.Equal(t, 2, notifier.callCount())
}

func TestRunCycle_LoweringDoesNotNotify(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}
	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityCritical)}}

	o := New(testConfig(), []source.Adapter{adapter}, st, notifier)
	_, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	adapter.cands = []models.Candidate{imdFlood(models.SeverityMedium)}
	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, status.Updated)
	assert.Equal(t, 1, notifier.callCount(), "lowering must not trigger fan-out")
	assert.Equal(t, models.SeverityMedium, st.get("imd_w-42").Severity)
}

func TestRunCycle_PartialSourceFailure(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}

	broken := &stubAdapter{
		name: models.SourceNDMA,
		err:  source.AsFailure(models.SourceNDMA, source.ReasonTransport, errors.New("connection refused")),
	}
	working := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{broken, working}, st, notifier)
	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err, "source failure must not fail the cycle")

	assert.Equal(t, 1, status.Inserted)
	assert.False(t, status.Sources[models.SourceNDMA].OK)
	assert.True(t, status.Sources[models.SourceIMD].OK)
	assert.NotNil(t, st.get("imd_w-42"))
}

func TestRunCycle_HangingSourceTimesOut(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}

	hanging := &stubAdapter{name: models.SourceISRO, hang: true}
	working := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{hanging, working}, st, notifier)

	start := time.Now()
	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, source.ReasonTimeout, status.Sources[models.SourceISRO].Reason)
	assert.Equal(t, 1, status.Inserted)
}

func TestRunCycle_DeactivatesExpired(t *testing.T) {
	st := newMemStore()
	past := time.Now().UTC().Add(-time.Hour)
	st.byKey["old"] = &models.Alert{ID: "old-id", DedupKey: "old", IsActive: true, ExpiresAt: &past}

	o := New(testConfig(), nil, st, &recordingNotifier{})
	status, err := o.RunCycle(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, int64(1), status.Deactivated)
	assert.False(t, st.get("old").IsActive)
}

func TestSearchCity_NeverWritesStore(t *testing.T) {
	st := newMemStore()
	notifier := &recordingNotifier{}

	mumbai := imdFlood(models.SeverityHigh)
	mumbai.NativeID = "w-99"
	mumbai.Title = "Flood Warning for Mumbai"
	mumbai.Areas = []models.Area{{City: "Mumbai", State: "Maharashtra"}}

	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{
		mumbai, imdFlood(models.SeverityHigh),
	}}

	o := New(testConfig(), []source.Adapter{adapter}, st, notifier)

	before := st.writeCount()
	result, err := o.SearchCity(context.Background(), "Mumbai")
	require.NoError(t, err)

	assert.Equal(t, before, st.writeCount(), "search must not write the store")
	assert.Zero(t, notifier.callCount(), "search must not notify")
	assert.True(t, result.Live)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "Flood Warning for Mumbai", result.Alerts[0].Title)
	assert.True(t, result.Sources[models.SourceIMD].OK)
}

func TestSearchCity_DeadlineWithHangingSource(t *testing.T) {
	st := newMemStore()
	hanging := &stubAdapter{name: models.SourceISRO, hang: true}
	working := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{hanging, working}, st, &recordingNotifier{})

	start := time.Now()
	result, err := o.SearchCity(context.Background(), "Chennai")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second, "search must respect its deadline")
	assert.False(t, result.Sources[models.SourceISRO].OK)
	assert.True(t, result.Sources[models.SourceIMD].OK)
	assert.Equal(t, 1, result.Total)
}

func TestSearchCity_AllSourcesFailed(t *testing.T) {
	st := newMemStore()
	broken := &stubAdapter{
		name: models.SourceNDMA,
		err:  source.AsFailure(models.SourceNDMA, source.ReasonTransport, errors.New("refused")),
	}

	o := New(testConfig(), []source.Adapter{broken}, st, &recordingNotifier{})
	_, err := o.SearchCity(context.Background(), "Chennai")
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	st := newMemStore()
	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{adapter}, st, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)

	// The initial cycle runs immediately.
	require.Eventually(t, func() bool {
		return o.Status() != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator.Stop() timed out - possible goroutine leak")
	}
}

func TestTriggerNow_ConcurrentWithSchedule(t *testing.T) {
	st := newMemStore()
	adapter := &stubAdapter{name: models.SourceIMD, cands: []models.Candidate{imdFlood(models.SeverityHigh)}}

	o := New(testConfig(), []source.Adapter{adapter}, st, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.TriggerNow(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	cancel()

	// One live record per key regardless of concurrent cycles.
	alerts, total, err := st.FindActive(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, alerts, 1)
	assert.Equal(t, "imd_w-42", alerts[0].DedupKey)
}
