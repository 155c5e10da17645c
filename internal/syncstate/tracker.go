// Package syncstate tracks which (user, provider) ingestions are running and how the last one ended.
package syncstate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridesync/internal/domain"
)

var runningGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ridesync",
	Subsystem: "sync",
	Name:      "running",
	Help:      "Ingestion runs currently holding the per-key lock.",
}, []string{"provider"})

func init() {
	prometheus.MustRegister(runningGauge)
}

// Release ends a run. err is nil on success. Calling it more than once has no effect.
type Release func(result domain.IngestResult, err error)

// Tracker is an in-process lock table keyed by (userId, provider).
type Tracker struct {
	mu     sync.Mutex
	states map[domain.CredentialKey]domain.SyncState
	now    func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[domain.CredentialKey]domain.SyncState),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TryAcquire marks the key RUNNING. It returns false without blocking when a run is already active.
func (t *Tracker) TryAcquire(userID string, provider domain.Provider) (Release, bool) {
	key := domain.CredentialKey{UserID: userID, Provider: provider}

	t.mu.Lock()
	state, ok := t.states[key]
	if ok && state.Status == domain.SyncStatusRunning {
		t.mu.Unlock()
		return nil, false
	}
	state.UserID = userID
	state.Provider = provider
	state.Status = domain.SyncStatusRunning
	state.StartedAt = t.now()
	t.states[key] = state
	t.mu.Unlock()
	runningGauge.WithLabelValues(string(provider)).Inc()

	var once sync.Once
	return func(result domain.IngestResult, err error) {
		once.Do(func() { t.finish(key, result, err) })
	}, true
}

func (t *Tracker) finish(key domain.CredentialKey, result domain.IngestResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states[key]
	state.Status = domain.SyncStatusIdle
	state.LastResult = result
	if err != nil {
		state.LastError = err.Error()
	} else {
		state.LastError = ""
		state.LastSyncAt = t.now()
	}
	t.states[key] = state
	runningGauge.WithLabelValues(string(key.Provider)).Dec()
}

// Get returns the state for the key. Unknown keys report IDLE with no history.
func (t *Tracker) Get(userID string, provider domain.Provider) domain.SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[domain.CredentialKey{UserID: userID, Provider: provider}]
	if !ok {
		return domain.SyncState{UserID: userID, Provider: provider, Status: domain.SyncStatusIdle}
	}
	return state
}

// Forget drops history for an idle key. A running key keeps its entry until released.
func (t *Tracker) Forget(userID string, provider domain.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := domain.CredentialKey{UserID: userID, Provider: provider}
	if state, ok := t.states[key]; ok && state.Status != domain.SyncStatusRunning {
		delete(t.states, key)
	}
}
