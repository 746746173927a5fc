// Package orchestrator coordinates scrape cycles: parallel source
// fetches, reconciliation, persistence, and notification fan-out. It owns
// the recurring schedule and the on-demand entry points.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
	"github.com/thebeacon-app/beacon-alerts/internal/notify"
	"github.com/thebeacon-app/beacon-alerts/internal/reconcile"
	"github.com/thebeacon-app/beacon-alerts/internal/source"
	"github.com/thebeacon-app/beacon-alerts/internal/store"
)

// Notifier is the awaited notification step of the cycle. Satisfied by
// *notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert, escalated bool) (*notify.DeliveryReport, error)
}

// SourceOutcome records how one adapter fared in a cycle or search.
type SourceOutcome struct {
	OK     bool                 `json:"ok"`
	Count  int                  `json:"count"`
	Reason source.FailureReason `json:"reason,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// CycleStatus is the last-cycle metadata exposed at /alerts/scrape/status.
type CycleStatus struct {
	Trigger     string                          `json:"trigger"`
	StartedAt   time.Time                       `json:"startedAt"`
	FinishedAt  time.Time                       `json:"finishedAt"`
	Sources     map[models.Source]SourceOutcome `json:"sources"`
	Candidates  int                             `json:"candidates"`
	Inserted    int                             `json:"inserted"`
	Updated     int                             `json:"updated"`
	Discarded   int                             `json:"discarded"`
	Deactivated int64                           `json:"deactivated"`
	Notified    int                             `json:"notified"`
	Error       string                          `json:"error,omitempty"`
}

// SearchResult is the live, unpersisted payload of the real-time city
// search.
type SearchResult struct {
	City       string                          `json:"city"`
	Alerts     []*models.Alert                 `json:"alerts"`
	Total      int                             `json:"total"`
	Sources    map[models.Source]SourceOutcome `json:"sources"`
	SearchedAt time.Time                       `json:"searchedAt"`
	Live       bool                            `json:"live"`
}

type Config struct {
	Interval       time.Duration
	AdapterTimeout time.Duration
	SearchDeadline time.Duration
}

type Orchestrator struct {
	cfg      Config
	adapters []source.Adapter
	store    store.AlertStore
	notifier Notifier

	// cycleRunning guards the scheduled path only: a tick that fires while
	// the previous scheduled cycle is still going is skipped. On-demand
	// triggers bypass it; the store's per-key upsert keeps that safe.
	cycleRunning atomic.Bool

	mu   sync.Mutex
	last *CycleStatus

	wg sync.WaitGroup
}

func New(cfg Config, adapters []source.Adapter, alerts store.AlertStore, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		adapters: adapters,
		store:    alerts,
		notifier: notifier,
	}
}

// Start launches the recurring schedule. The first cycle runs immediately;
// subsequent cycles run every Interval until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go o.run(ctx)
}

// Stop blocks until the scheduler goroutine has exited.
func (o *Orchestrator) Stop() {
	o.wg.Wait()
	slog.Info("orchestrator stopped")
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()
	slog.Info("starting scrape schedule", "interval", o.cfg.Interval)

	o.scheduledCycle(ctx)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scrape schedule shutting down")
			return
		case <-ticker.C:
			o.scheduledCycle(ctx)
		}
	}
}

func (o *Orchestrator) scheduledCycle(ctx context.Context) {
	if !o.cycleRunning.CompareAndSwap(false, true) {
		slog.Warn("previous scheduled cycle still running, skipping tick")
		return
	}
	defer o.cycleRunning.Store(false)

	if _, err := o.RunCycle(ctx, "schedule"); err != nil {
		slog.Error("scrape cycle failed", "error", err)
	}
}

// TriggerNow runs one cycle immediately without touching the schedule's
// next tick. Safe to call concurrently with a scheduled cycle.
func (o *Orchestrator) TriggerNow(ctx context.Context) (*CycleStatus, error) {
	return o.RunCycle(ctx, "manual")
}

// RunCycle drives one full Fetching -> Reconciling -> Persisting ->
// Notifying pass. Individual source failures degrade the cycle; a store
// failure aborts it (the next tick is the retry).
func (o *Orchestrator) RunCycle(ctx context.Context, trigger string) (*CycleStatus, error) {
	now := time.Now().UTC()
	status := &CycleStatus{
		Trigger:   trigger,
		StartedAt: now,
		Sources:   make(map[models.Source]SourceOutcome, len(o.adapters)),
	}

	defer func() {
		status.FinishedAt = time.Now().UTC()
		o.mu.Lock()
		o.last = status
		o.mu.Unlock()
	}()

	fail := func(err error) (*CycleStatus, error) {
		status.Error = err.Error()
		return status, err
	}

	deactivated, err := o.store.DeactivateExpired(ctx, now)
	if err != nil {
		return fail(fmt.Errorf("deactivate expired: %w", err))
	}
	status.Deactivated = deactivated

	// Fetching
	candidates := o.fetchAll(ctx, nil, status.Sources)
	status.Candidates = len(candidates)

	// Reconciling
	keys := uniqueKeys(candidates)
	existing, err := o.store.GetByKeys(ctx, keys)
	if err != nil {
		return fail(fmt.Errorf("load existing alerts: %w", err))
	}
	decisions := reconcile.Reconcile(candidates, existing, now)

	// Persisting + Notifying
	for _, d := range decisions {
		switch d.Action {
		case reconcile.ActionDiscard:
			status.Discarded++
			continue
		case reconcile.ActionInsert:
			if err := o.store.UpsertByKey(ctx, d.Alert); err != nil {
				return fail(fmt.Errorf("insert alert %s: %w", d.Alert.DedupKey, err))
			}
			status.Inserted++
			o.dispatch(ctx, status, d.Alert, false)
		case reconcile.ActionUpdate:
			if err := o.store.UpsertByKey(ctx, d.Alert); err != nil {
				return fail(fmt.Errorf("update alert %s: %w", d.Alert.DedupKey, err))
			}
			status.Updated++
			if d.Escalated {
				o.dispatch(ctx, status, d.Alert, true)
			}
		}
	}

	slog.Info("scrape cycle complete",
		"trigger", trigger,
		"candidates", status.Candidates,
		"inserted", status.Inserted,
		"updated", status.Updated,
		"discarded", status.Discarded,
		"deactivated", status.Deactivated,
		"notified", status.Notified)

	return status, nil
}

// dispatch is the awaited Notifying step. Delivery failures inside the
// batch are already isolated by the dispatcher; a wholesale dispatcher
// error degrades the cycle but does not abort it.
func (o *Orchestrator) dispatch(ctx context.Context, status *CycleStatus, alert *models.Alert, escalated bool) {
	report, err := o.notifier.Notify(ctx, alert, escalated)
	if err != nil {
		slog.Error("notification dispatch failed", "alert_id", alert.ID, "error", err)
		return
	}
	status.Notified += report.Delivered
}

// SearchCity is the low-latency bypass path: fetch with a city filter,
// merge, and return without touching the store. Partial results carry a
// per-source outcome map; the call errors only when every source fails.
func (o *Orchestrator) SearchCity(ctx context.Context, city string) (*SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SearchDeadline)
	defer cancel()

	outcomes := make(map[models.Source]SourceOutcome, len(o.adapters))
	filter := &source.CityFilter{City: city}
	candidates := o.fetchAll(ctx, filter, outcomes)

	anyOK := false
	for _, out := range outcomes {
		if out.OK {
			anyOK = true
			break
		}
	}
	if !anyOK && len(o.adapters) > 0 {
		return nil, errors.New("all sources failed")
	}

	now := time.Now().UTC()
	merged := reconcile.Merge(candidates, now)

	return &SearchResult{
		City:       city,
		Alerts:     merged,
		Total:      len(merged),
		Sources:    outcomes,
		SearchedAt: now,
		Live:       true,
	}, nil
}

// Status returns the last completed cycle's metadata, or nil before the
// first cycle.
func (o *Orchestrator) Status() *CycleStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// fetchAll fans out to every adapter in parallel, bounds each fetch with
// the adapter timeout, and records a per-source outcome. One slow or
// broken source costs only its own contribution.
func (o *Orchestrator) fetchAll(ctx context.Context, filter *source.CityFilter, outcomes map[models.Source]SourceOutcome) []models.Candidate {
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates []models.Candidate
	)

	for _, adapter := range o.adapters {
		wg.Add(1)
		go func(a source.Adapter) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
			defer cancel()

			cands, err := a.Fetch(fetchCtx, filter)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome := SourceOutcome{Error: err.Error()}
				var f *source.Failure
				if errors.As(err, &f) {
					outcome.Reason = f.Reason
				} else {
					outcome.Reason = source.ReasonTransport
				}
				outcomes[a.Name()] = outcome
				slog.Warn("source fetch failed", "source", a.Name(), "reason", outcome.Reason, "error", err)
				return
			}
			outcomes[a.Name()] = SourceOutcome{OK: true, Count: len(cands)}
			candidates = append(candidates, cands...)
		}(adapter)
	}

	wg.Wait()
	return candidates
}

func uniqueKeys(candidates []models.Candidate) []string {
	seen := make(map[string]bool, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := reconcile.DedupKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}
