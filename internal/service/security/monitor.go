// Package security audits security-relevant events and enforces per-caller
// request limits and failed-auth lockouts.
package security

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/metrics"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500

	// rateEventInterval bounds how often one caller's rejections reach the
	// event store.
	rateEventInterval = time.Minute
)

// EventStore persists the audit trail.
type EventStore interface {
	InsertSecurityEvent(ctx context.Context, event models.SecurityEvent) error
	RecentSecurityEvents(ctx context.Context, limit int, kind models.SecurityEventKind) ([]models.SecurityEvent, error)
	CountSecurityEvents(ctx context.Context, from, to time.Time) (int, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reportedAt is when the last rate_limit_exceeded event was stored;
	// suppressed counts rejections since then.
	reportedAt time.Time
	suppressed int
}

type authFailures struct {
	attempts    []time.Time
	lockedUntil time.Time
}

// Monitor tracks request budgets and failed logins in memory and writes
// notable events to the event store.
type Monitor struct {
	store     EventStore
	rateLimit config.RateLimitConfig
	security  config.SecurityConfig
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	failures map[string]*authFailures
}

// NewMonitor builds a Monitor. store may be nil, in which case events are
// only logged.
func NewMonitor(store EventStore, rateLimit config.RateLimitConfig, security config.SecurityConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:     store,
		rateLimit: rateLimit,
		security:  security,
		now:       time.Now,
		logger:    logger,
		limiters:  make(map[string]*limiterEntry),
		failures:  make(map[string]*authFailures),
	}
}

// LogEvent records an event. Persistence failures are logged, never returned.
func (m *Monitor) LogEvent(ctx context.Context, event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = models.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}
	metrics.RecordSecurityEvent(string(event.Kind))

	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("severity", string(event.Severity)),
		zap.String("user_id", event.UserID),
		zap.String("ip", event.IP),
		zap.String("path", event.Path),
	}
	if event.Severity.Elevated() {
		m.logger.Warn("security event", fields...)
	} else {
		m.logger.Info("security event", fields...)
	}

	if m.store == nil {
		return
	}
	if err := m.store.InsertSecurityEvent(ctx, event); err != nil {
		m.logger.Error("persist security event", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// Key picks the rate-limit bucket for a caller: the user when known,
// otherwise the client address.
func Key(userID, ip string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + ip
}

// Allow spends one token from the caller's bucket. When the bucket is empty
// it logs a rate_limit_exceeded event and returns how long to wait.
func (m *Monitor) Allow(ctx context.Context, userID, ip, path string) (bool, time.Duration) {
	key := Key(userID, ip)
	now := m.now()

	m.mu.Lock()
	entry := m.limiterFor(key, now)
	allowed := entry.limiter.AllowN(now, 1)
	var (
		wait       time.Duration
		report     bool
		suppressed int
	)
	if !allowed {
		wait = m.waitFor(entry.limiter, now)
		if entry.reportedAt.IsZero() || now.Sub(entry.reportedAt) >= rateEventInterval {
			report, suppressed = true, entry.suppressed
			entry.reportedAt, entry.suppressed = now, 0
		} else {
			entry.suppressed++
		}
	}
	m.mu.Unlock()

	if allowed {
		return true, 0
	}
	if !report {
		metrics.RecordSecurityEvent(string(models.EventRateLimitExceeded))
		return false, wait
	}

	event := models.SecurityEvent{
		Kind:     models.EventRateLimitExceeded,
		Severity: models.SeverityMedium,
		UserID:   userID,
		IP:       ip,
		Path:     path,
	}
	if suppressed > 0 {
		event.Details = map[string]string{"suppressed": strconv.Itoa(suppressed)}
	}
	m.LogEvent(ctx, event)
	return false, wait
}

// RateLimitStatus reports the caller's bucket without spending a token.
func (m *Monitor) RateLimitStatus(userID, ip string) models.RateLimitStatus {
	key := Key(userID, ip)
	now := m.now()

	m.mu.Lock()
	entry := m.limiterFor(key, now)
	tokens := math.Max(0, entry.limiter.TokensAt(now))
	status := models.RateLimitStatus{
		Key:       key,
		PerSecond: m.rateLimit.RequestsPerSecond,
		Burst:     m.rateLimit.Burst,
		Available: math.Floor(tokens*100) / 100,
	}
	if until := m.lockedUntil(ip, now); !until.IsZero() {
		status.LockedOut = true
		status.RetryAfter = math.Ceil(until.Sub(now).Seconds())
	}
	m.mu.Unlock()
	return status
}

func (m *Monitor) limiterFor(key string, now time.Time) *limiterEntry {
	entry, ok := m.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(m.rateLimit.RequestsPerSecond), m.rateLimit.Burst)}
		m.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry
}

func (m *Monitor) waitFor(l *rate.Limiter, now time.Time) time.Duration {
	missing := 1 - l.TokensAt(now)
	if missing <= 0 || m.rateLimit.RequestsPerSecond <= 0 {
		return time.Second
	}
	return time.Duration(missing / m.rateLimit.RequestsPerSecond * float64(time.Second))
}

// RecordAuthFailure notes a rejected credential from ip. Reaching the
// threshold inside the lockout window locks the address out for the window.
func (m *Monitor) RecordAuthFailure(ctx context.Context, ip, path, reason string) {
	now := m.now()
	window := m.security.LockoutWindow

	m.mu.Lock()
	f, ok := m.failures[ip]
	if !ok {
		f = &authFailures{}
		m.failures[ip] = f
	}
	kept := f.attempts[:0]
	for _, at := range f.attempts {
		if now.Sub(at) < window {
			kept = append(kept, at)
		}
	}
	f.attempts = append(kept, now)
	attempts := len(f.attempts)
	lockedNow := false
	if attempts >= m.security.FailedAuthThreshold && !now.Before(f.lockedUntil) {
		f.lockedUntil = now.Add(window)
		lockedNow = true
	}
	m.mu.Unlock()

	m.LogEvent(ctx, models.SecurityEvent{
		Kind:     models.EventAuthFailed,
		Severity: models.SeverityLow,
		IP:       ip,
		Path:     path,
		Details:  map[string]string{"reason": reason},
	})
	if lockedNow {
		m.LogEvent(ctx, models.SecurityEvent{
			Kind:     models.EventLockout,
			Severity: models.SeverityHigh,
			IP:       ip,
			Path:     path,
			Details: map[string]string{
				"attempts": fmt.Sprint(attempts),
				"window":   window.String(),
			},
		})
	}
}

// IsLockedOut reports whether ip is locked out and for how much longer.
func (m *Monitor) IsLockedOut(ip string) (bool, time.Duration) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	until := m.lockedUntil(ip, now)
	if until.IsZero() {
		return false, 0
	}
	return true, until.Sub(now)
}

func (m *Monitor) lockedUntil(ip string, now time.Time) time.Time {
	f, ok := m.failures[ip]
	if !ok || !now.Before(f.lockedUntil) {
		return time.Time{}
	}
	return f.lockedUntil
}

// Cleanup drops limiters idle for longer than idle along with expired
// failure records. It returns the number of limiters removed.
func (m *Monitor) Cleanup(idle time.Duration) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.limiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(m.limiters, key)
			removed++
		}
	}
	for ip, f := range m.failures {
		if !now.Before(f.lockedUntil) && (len(f.attempts) == 0 || now.Sub(f.attempts[len(f.attempts)-1]) >= m.security.LockoutWindow) {
			delete(m.failures, ip)
		}
	}
	return removed
}

// RecentEvents lists the audit trail for administrators.
func (m *Monitor) RecentEvents(ctx context.Context, actor models.Actor, limit int, kind models.SecurityEventKind) ([]models.SecurityEvent, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: security events are admin only", models.ErrForbidden)
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	if m.store == nil {
		return []models.SecurityEvent{}, nil
	}
	events, err := m.store.RecentSecurityEvents(ctx, limit, kind)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}
	return events, nil
}

// CountEvents counts events logged in [from, to).
func (m *Monitor) CountEvents(ctx context.Context, from, to time.Time) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	return m.store.CountSecurityEvents(ctx, from, to)
}
