package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheFor   = 10 * time.Second
	checkTimeout      = 3 * time.Second
	componentDatabase = "database"
	componentRedis    = "redis"
	componentAudit    = "audit"
)

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DropCounter reports how many audit entries have been dropped since start.
type DropCounter interface {
	Degraded() int64
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	store    Pinger
	cache    Pinger
	auditor  DropCounter
	cacheFor time.Duration
	now      func() time.Time

	group       singleflight.Group
	mu          sync.RWMutex
	lastCheck   time.Time
	lastReport  *HealthReport
	lastDropped int64
}

// NewMonitor creates a new health monitor. cache and auditor may be nil.
func NewMonitor(store, cache Pinger, auditor DropCounter) *Monitor {
	return &Monitor{
		store:    store,
		cache:    cache,
		auditor:  auditor,
		cacheFor: defaultCacheFor,
		now:      time.Now,
	}
}

// CheckHealth returns the current report. Results are reused for a few
// seconds, and concurrent callers share one probe.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.RLock()
	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.cacheFor {
		r := m.lastReport
		m.mu.RUnlock()
		return r
	}
	m.mu.RUnlock()

	v, _, _ := m.group.Do("check", func() (any, error) {
		return m.check(context.WithoutCancel(ctx)), nil
	})
	return v.(*HealthReport)
}

func (m *Monitor) check(ctx context.Context) *HealthReport {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}
	add := func(c ComponentHealth) {
		report.Components[c.Name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	// The store is required; losing it is critical.
	add(probe(ctx, componentDatabase, m.store, StatusCritical))

	// Redis only carries events and the sweep lock.
	if m.cache != nil {
		add(probe(ctx, componentRedis, m.cache, StatusDegraded))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.auditor != nil {
		total := m.auditor.Degraded()
		c := ComponentHealth{Name: componentAudit, Status: StatusHealthy, Dropped: total - m.lastDropped}
		if c.Dropped > 0 {
			c.Status = StatusDegraded
		}
		m.lastDropped = total
		add(c)
	}

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}

func probe(ctx context.Context, name string, p Pinger, onFailure SystemStatus) ComponentHealth {
	start := time.Now()
	err := p.Ping(ctx)
	c := ComponentHealth{
		Name:      name,
		Status:    StatusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Status = onFailure
		c.Error = err.Error()
	}
	return c
}
