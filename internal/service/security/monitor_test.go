package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
)

type memoryStore struct {
	events []models.SecurityEvent
	err    error
}

func (s *memoryStore) InsertSecurityEvent(_ context.Context, e models.SecurityEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memoryStore) RecentSecurityEvents(_ context.Context, limit int, kind models.SecurityEventKind) ([]models.SecurityEvent, error) {
	var out []models.SecurityEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || s.events[i].Kind == kind {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memoryStore) CountSecurityEvents(_ context.Context, from, to time.Time) (int, error) {
	n := 0
	for _, e := range s.events {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) kinds() []models.SecurityEventKind {
	var out []models.SecurityEventKind
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMonitor(t *testing.T) (*Monitor, *memoryStore, *clock) {
	t.Helper()
	store := &memoryStore{}
	c := &clock{t: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	m := NewMonitor(store,
		config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2},
		config.SecurityConfig{FailedAuthThreshold: 3, LockoutWindow: 10 * time.Minute},
		nil)
	m.now = c.now
	return m, store, c
}

func TestAllowEnforcesBurst(t *testing.T) {
	m, store, c := newMonitor(t)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "user-1", "10.0.0.1", "/api/v1/me")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "user-1", "10.0.0.1", "/api/v1/me")
	assert.True(t, ok)

	ok, wait := m.Allow(ctx, "user-1", "10.0.0.1", "/api/v1/me")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, []models.SecurityEventKind{models.EventRateLimitExceeded}, store.kinds())
	assert.Equal(t, "user-1", store.events[0].UserID)

	// Buckets are per caller.
	ok, _ = m.Allow(ctx, "user-2", "10.0.0.1", "/api/v1/me")
	assert.True(t, ok)

	c.advance(time.Second)
	ok, _ = m.Allow(ctx, "user-1", "10.0.0.1", "/api/v1/me")
	assert.True(t, ok)
}

func TestRateLimitEventsAreThrottledPerCaller(t *testing.T) {
	m, store, c := newMonitor(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		m.Allow(ctx, "", "10.0.0.7", "/api/v1/offers")
	}
	require.Len(t, store.events, 1, "a flood stores one event")
	assert.Empty(t, store.events[0].Details)

	// Another caller gets its own event.
	for i := 0; i < 3; i++ {
		m.Allow(ctx, "", "10.0.0.8", "/api/v1/offers")
	}
	assert.Len(t, store.events, 2)

	c.advance(30 * time.Second)
	for i := 0; i < 40; i++ {
		m.Allow(ctx, "", "10.0.0.7", "/api/v1/offers")
	}
	assert.Len(t, store.events, 2)

	c.advance(31 * time.Second)
	ok, _ := m.Allow(ctx, "", "10.0.0.7", "/api/v1/offers")
	require.True(t, ok, "the bucket refilled")
	for i := 0; i < 5; i++ {
		m.Allow(ctx, "", "10.0.0.7", "/api/v1/offers")
	}
	require.Len(t, store.events, 3)
	assert.Equal(t, "10.0.0.7", store.events[2].IP)
	assert.NotEmpty(t, store.events[2].Details["suppressed"])
}

func TestRateLimitStatus(t *testing.T) {
	m, _, c := newMonitor(t)
	ctx := context.Background()

	status := m.RateLimitStatus("", "10.0.0.9")
	assert.Equal(t, "ip:10.0.0.9", status.Key)
	assert.Equal(t, 2.0, status.Available)
	assert.Equal(t, 2, status.Burst)
	assert.Equal(t, 1.0, status.PerSecond)

	m.Allow(ctx, "", "10.0.0.9", "/")
	m.Allow(ctx, "", "10.0.0.9", "/")
	assert.Equal(t, 0.0, m.RateLimitStatus("", "10.0.0.9").Available)

	c.advance(500 * time.Millisecond)
	assert.Equal(t, 0.5, m.RateLimitStatus("", "10.0.0.9").Available)
	assert.False(t, m.RateLimitStatus("", "10.0.0.9").LockedOut)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	m, store, c := newMonitor(t)
	ctx := context.Background()

	m.RecordAuthFailure(ctx, "10.0.0.1", "/api/v1/me", "bad signature")
	m.RecordAuthFailure(ctx, "10.0.0.1", "/api/v1/me", "bad signature")
	locked, _ := m.IsLockedOut("10.0.0.1")
	assert.False(t, locked)

	m.RecordAuthFailure(ctx, "10.0.0.1", "/api/v1/me", "expired")
	locked, remaining := m.IsLockedOut("10.0.0.1")
	assert.True(t, locked)
	assert.Equal(t, 10*time.Minute, remaining)

	var lockouts []models.SecurityEvent
	for _, e := range store.events {
		if e.Kind == models.EventLockout {
			lockouts = append(lockouts, e)
		}
	}
	require.Len(t, lockouts, 1)
	assert.Equal(t, models.SeverityHigh, lockouts[0].Severity)
	assert.Equal(t, "3", lockouts[0].Details["attempts"])

	status := m.RateLimitStatus("", "10.0.0.1")
	assert.True(t, status.LockedOut)
	assert.Equal(t, 600.0, status.RetryAfter)

	c.advance(10 * time.Minute)
	locked, _ = m.IsLockedOut("10.0.0.1")
	assert.False(t, locked)

	// Other addresses are unaffected.
	locked, _ = m.IsLockedOut("10.0.0.2")
	assert.False(t, locked)
}

func TestFailuresOutsideWindowDoNotCount(t *testing.T) {
	m, _, c := newMonitor(t)
	ctx := context.Background()

	m.RecordAuthFailure(ctx, "10.0.0.1", "/", "bad")
	m.RecordAuthFailure(ctx, "10.0.0.1", "/", "bad")
	c.advance(11 * time.Minute)
	m.RecordAuthFailure(ctx, "10.0.0.1", "/", "bad")

	locked, _ := m.IsLockedOut("10.0.0.1")
	assert.False(t, locked)
}

func TestCleanup(t *testing.T) {
	m, _, c := newMonitor(t)
	ctx := context.Background()

	m.Allow(ctx, "user-1", "", "/")
	c.advance(time.Minute)
	m.Allow(ctx, "user-2", "", "/")
	m.RecordAuthFailure(ctx, "10.0.0.1", "/", "bad")

	c.advance(5 * time.Minute)
	assert.Equal(t, 1, m.Cleanup(5*time.Minute+30*time.Second))
	assert.Len(t, m.limiters, 1)
	assert.Len(t, m.failures, 1)

	c.advance(10 * time.Minute)
	assert.Equal(t, 1, m.Cleanup(time.Minute))
	assert.Empty(t, m.failures)
}

func TestLogEventSurvivesStoreFailure(t *testing.T) {
	m, store, _ := newMonitor(t)
	store.err = errors.New("mongo down")

	assert.NotPanics(t, func() {
		m.LogEvent(context.Background(), models.SecurityEvent{Kind: models.EventSuspiciousActivity, Severity: models.SeverityCritical})
	})
	assert.Empty(t, store.events)
}

func TestRecentEvents(t *testing.T) {
	m, _, _ := newMonitor(t)
	ctx := context.Background()
	m.LogEvent(ctx, models.SecurityEvent{Kind: models.EventForbiddenAccess})
	m.LogEvent(ctx, models.SecurityEvent{Kind: models.EventAuthFailed})

	_, err := m.RecentEvents(ctx, models.Actor{UserID: "u", Role: models.RoleBuilder}, 10, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	admin := models.Actor{UserID: "a", Role: models.RoleAdmin}
	events, err := m.RecentEvents(ctx, admin, 0, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventAuthFailed, events[0].Kind)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, models.SeverityLow, events[0].Severity)

	events, err = m.RecentEvents(ctx, admin, 10, models.EventForbiddenAccess)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	n, err := m.CountEvents(ctx, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
