package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status grades how much of the daily budget is spent.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusEmergency Status = "emergency"
	StatusExhausted Status = "exhausted"
)

// Thresholds are percentage cutoffs for the graduated statuses.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// DefaultThresholds per the tracker's documented limits.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 80, Critical: 90, Emergency: 95}
}

// Snapshot is the quota position after one recorded request.
type Snapshot struct {
	Used       int
	Remaining  int
	Limit      int
	Percentage float64
	Status     Status
}

// RequestRecord is one diagnostics log entry.
type RequestRecord struct {
	Endpoint string
	Success  bool
	Latency  time.Duration
	At       time.Time
}

// Diagnostics summarises the rolling request log.
type Diagnostics struct {
	Requests     int
	SuccessRate  float64
	AvgLatency   time.Duration
	TopEndpoints []EndpointCount
}

// EndpointCount pairs an endpoint with its call count.
type EndpointCount struct {
	Endpoint string
	Count    int
}

// CounterStore persists the daily call counter so the count holds across
// concurrent workers and restarts. Day keys are local calendar dates.
type CounterStore interface {
	IncrementDay(ctx context.Context, day string) (int, error)
	ReadDay(ctx context.Context, day string) (int, error)
}

// AlertFunc receives every non-healthy snapshot. Callers debounce if they
// need to; the manager does not deduplicate.
type AlertFunc func(Snapshot)

// Manager tracks daily call volume against the configured limit. It is an
// explicit state object: construct one per store, never share through
// package globals.
type Manager struct {
	mu         sync.Mutex
	store      CounterStore
	limit      int
	thresholds Thresholds
	alert      AlertFunc
	loc        *time.Location
	now        func() time.Time

	day  string
	used int

	log    []RequestRecord
	logCap int
}

// Options configure a Manager.
type Options struct {
	DailyLimit int
	Thresholds Thresholds
	Location   *time.Location
	LogSize    int
}

// NewManager builds a quota manager around a counter store.
func NewManager(store CounterStore, opts Options, alert AlertFunc) *Manager {
	limit := opts.DailyLimit
	if limit <= 0 {
		limit = 200
	}
	thresholds := opts.Thresholds
	if thresholds.Warning <= 0 {
		thresholds = DefaultThresholds()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logCap := opts.LogSize
	if logCap <= 0 {
		logCap = 100
	}
	return &Manager{
		store:      store,
		limit:      limit,
		thresholds: thresholds,
		alert:      alert,
		loc:        loc,
		now:        time.Now,
		logCap:     logCap,
	}
}

const dayFormat = "2006-01-02"

// rollDay lazily resets the counter when the local calendar date changes.
// Caller holds the lock.
func (m *Manager) rollDay(ctx context.Context) error {
	today := m.now().In(m.loc).Format(dayFormat)
	if today == m.day {
		return nil
	}
	used, err := m.store.ReadDay(ctx, today)
	if err != nil {
		return err
	}
	m.day = today
	m.used = used
	return nil
}

// RecordRequest counts one tracker call and returns the resulting quota
// position. Non-healthy snapshots fire the alert callback, once per call.
func (m *Manager) RecordRequest(ctx context.Context, endpoint string, success bool, latency time.Duration) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.rollDay(ctx); err != nil {
		return Snapshot{}, err
	}

	used, err := m.store.IncrementDay(ctx, m.day)
	if err != nil {
		return Snapshot{}, err
	}
	m.used = used

	m.log = append(m.log, RequestRecord{
		Endpoint: endpoint,
		Success:  success,
		Latency:  latency,
		At:       m.now(),
	})
	if len(m.log) > m.logCap {
		m.log = m.log[len(m.log)-m.logCap:]
	}

	snap := m.snapshotLocked()
	if snap.Status != StatusHealthy && m.alert != nil {
		m.alert(snap)
	}
	return snap, nil
}

// CanMakeRequest reports whether the daily budget has room left. Exhaustion
// is a status, not an error; callers skip work when this is false.
func (m *Manager) CanMakeRequest(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.rollDay(ctx); err != nil {
		return false, err
	}
	return m.used < m.limit, nil
}

// Current returns the quota position without recording anything.
func (m *Manager) Current(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.rollDay(ctx); err != nil {
		return Snapshot{}, err
	}
	return m.snapshotLocked(), nil
}

func (m *Manager) snapshotLocked() Snapshot {
	pct := float64(m.used) / float64(m.limit) * 100
	remaining := m.limit - m.used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Used:       m.used,
		Remaining:  remaining,
		Limit:      m.limit,
		Percentage: pct,
		Status:     m.statusFor(pct),
	}
}

func (m *Manager) statusFor(pct float64) Status {
	switch {
	case pct >= 100:
		return StatusExhausted
	case pct >= m.thresholds.Emergency:
		return StatusEmergency
	case pct >= m.thresholds.Critical:
		return StatusCritical
	case pct >= m.thresholds.Warning:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Diagnostics summarises the rolling log: success rate, average latency,
// and the busiest endpoints.
func (m *Manager) Diagnostics() Diagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := Diagnostics{Requests: len(m.log)}
	if len(m.log) == 0 {
		return d
	}

	var ok int
	var total time.Duration
	counts := make(map[string]int)
	for _, rec := range m.log {
		if rec.Success {
			ok++
		}
		total += rec.Latency
		counts[rec.Endpoint]++
	}

	d.SuccessRate = float64(ok) / float64(len(m.log))
	d.AvgLatency = total / time.Duration(len(m.log))

	for endpoint, count := range counts {
		d.TopEndpoints = append(d.TopEndpoints, EndpointCount{Endpoint: endpoint, Count: count})
	}
	sort.Slice(d.TopEndpoints, func(i, j int) bool {
		if d.TopEndpoints[i].Count != d.TopEndpoints[j].Count {
			return d.TopEndpoints[i].Count > d.TopEndpoints[j].Count
		}
		return d.TopEndpoints[i].Endpoint < d.TopEndpoints[j].Endpoint
	})
	if len(d.TopEndpoints) > 5 {
		d.TopEndpoints = d.TopEndpoints[:5]
	}
	return d
}
