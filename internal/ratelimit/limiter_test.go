package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuewire/pkg/core"
)

func weightLimit(limit int, interval core.RateLimitInterval) []core.RateLimit {
	return []core.RateLimit{
		{Type: core.LimitRequestWeight, Interval: interval, IntervalNum: 1, Limit: limit},
	}
}

func TestLimiter_ReserveProceeds(t *testing.T) {
	l := New(weightLimit(10, core.IntervalMinute))

	d := l.Reserve(10, core.LimitRequestWeight)
	assert.Equal(t, ActionProceed, d.Action)
}

func TestLimiter_ExhaustedBudgetWaits(t *testing.T) {
	l := New(weightLimit(10, core.IntervalMinute))

	require.Equal(t, ActionProceed, l.Reserve(10, core.LimitRequestWeight).Action)

	d := l.Reserve(1, core.LimitRequestWeight)
	assert.Equal(t, ActionWait, d.Action)
	assert.False(t, d.Until.IsZero())
}

func TestLimiter_WindowRollover(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(weightLimit(10, core.IntervalSecond))
	l.SetClock(func() time.Time { return now })

	require.Equal(t, ActionProceed, l.Reserve(10, core.LimitRequestWeight).Action)
	require.Equal(t, ActionWait, l.Reserve(1, core.LimitRequestWeight).Action)

	now = now.Add(1100 * time.Millisecond)
	assert.Equal(t, ActionProceed, l.Reserve(10, core.LimitRequestWeight).Action,
		"consumed resets once the window elapses")
}

func TestLimiter_ConsumedNeverExceedsLimit(t *testing.T) {
	l := New(weightLimit(100, core.IntervalMinute))

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 300)
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(1, core.LimitRequestWeight).Action == ActionProceed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	assert.LessOrEqual(t, len(allowed), 100)

	usage := l.Usage()
	require.Len(t, usage, 1)
	assert.LessOrEqual(t, usage[0].Count, usage[0].Limit)
}

func TestLimiter_IndependentLimitTypes(t *testing.T) {
	l := New([]core.RateLimit{
		{Type: core.LimitRequestWeight, Interval: core.IntervalMinute, IntervalNum: 1, Limit: 10},
		{Type: core.LimitOrders, Interval: core.IntervalSecond, IntervalNum: 10, Limit: 5},
	})

	require.Equal(t, ActionProceed, l.Reserve(10, core.LimitRequestWeight).Action)
	assert.Equal(t, ActionWait, l.Reserve(1, core.LimitRequestWeight).Action)
	assert.Equal(t, ActionProceed, l.Reserve(1, core.LimitOrders).Action,
		"order budget is independent of the weight budget")
}

func TestLimiter_BanSuppressesEverything(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(weightLimit(100, core.IntervalMinute))
	l.SetClock(func() time.Time { return now })

	l.RecordRejection(http.StatusTeapot, 2*time.Minute)

	d := l.Reserve(1, core.LimitRequestWeight)
	assert.Equal(t, ActionBanned, d.Action)
	assert.Equal(t, now.Add(2*time.Minute), d.Until)

	until, banned := l.BannedUntil()
	assert.True(t, banned)
	assert.Equal(t, now.Add(2*time.Minute), until)

	now = now.Add(2*time.Minute + time.Second)
	assert.Equal(t, ActionProceed, l.Reserve(1, core.LimitRequestWeight).Action)
}

func TestLimiter_RejectionOnlyLengthensBan(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(weightLimit(100, core.IntervalMinute))
	l.SetClock(func() time.Time { return now })

	l.RecordRejection(http.StatusTeapot, 10*time.Minute)
	l.RecordRejection(http.StatusTeapot, 1*time.Minute)

	d := l.Reserve(1, core.LimitRequestWeight)
	assert.Equal(t, now.Add(10*time.Minute), d.Until, "shorter rejection must not shrink the window")
}

func TestLimiter_TooManyRequestsImposesCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(weightLimit(100, core.IntervalMinute))
	l.SetClock(func() time.Time { return now })

	// Local accounting thought there was room; the venue disagreed.
	l.RecordRejection(http.StatusTooManyRequests, 5*time.Second)

	d := l.Reserve(1, core.LimitRequestWeight)
	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, now.Add(5*time.Second), d.Until)
}

func TestLimiter_SyncUsageIsAuthoritative(t *testing.T) {
	l := New(weightLimit(10, core.IntervalMinute))

	require.Equal(t, ActionProceed, l.Reserve(2, core.LimitRequestWeight).Action)

	l.SyncUsage([]core.RateLimit{
		{Type: core.LimitRequestWeight, Interval: core.IntervalMinute, IntervalNum: 1, Limit: 10, Count: 10},
	})

	assert.Equal(t, ActionWait, l.Reserve(1, core.LimitRequestWeight).Action,
		"server-reported saturation overrides the local count")
}

func TestLimiter_RawRequestFloor(t *testing.T) {
	l := New([]core.RateLimit{
		{Type: core.LimitRequestWeight, Interval: core.IntervalMinute, IntervalNum: 1, Limit: 1000},
		{Type: core.LimitRawRequests, Interval: core.IntervalSecond, IntervalNum: 1, Limit: 2},
	})

	assert.Equal(t, ActionProceed, l.Reserve(1, core.LimitRequestWeight).Action)
	assert.Equal(t, ActionProceed, l.Reserve(1, core.LimitRequestWeight).Action)

	d := l.Reserve(1, core.LimitRequestWeight)
	assert.Equal(t, ActionWait, d.Action, "raw request floor applies even with weight budget left")
}
