package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkPolicy_Schedule(t *testing.T) {
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	assert.Equal(t, want, NetworkPolicy().Schedule())
}

func TestStreamPolicy_CapsAtThirtySeconds(t *testing.T) {
	schedule := StreamPolicy().Schedule()
	require.Len(t, schedule, 10)
	assert.Equal(t, 16*time.Second, schedule[4])
	for _, d := range schedule[5:] {
		assert.Equal(t, 30*time.Second, d)
	}
}

func TestDelay_JitterNeverExceedsCap(t *testing.T) {
	p := StreamPolicy()
	assert.Equal(t, 30*time.Second, p.Delay(9, 500*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(1, 500*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(1, time.Hour), "jitter is clamped to MaxJitter")
	assert.Equal(t, time.Second, p.Delay(1, -time.Second))
}

func TestBase_Overflow(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Multiplier: 2}
	assert.Equal(t, time.Minute, p.Base(5000))
	assert.Equal(t, time.Second, p.Base(0))
}

// Delays handed out by a BackOff are non-decreasing, capped and bounded in count.
func TestBackOff_MonotonicCappedBounded(t *testing.T) {
	policies := []Policy{
		NetworkPolicy(),
		StreamPolicy(),
		{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 1.5, MaxJitter: time.Second, MaxAttempts: 40},
		{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, MaxJitter: 45 * time.Millisecond, MaxAttempts: 25},
	}

	for _, p := range policies {
		for run := 0; run < 50; run++ {
			b := NewBackOff(p)
			var prev time.Duration
			count := 0
			for {
				d := b.NextBackOff()
				if d == backoff.Stop {
					break
				}
				count++
				require.GreaterOrEqual(t, d, prev)
				require.LessOrEqual(t, d, p.normalized().Max)
				prev = d
			}
			require.Equal(t, p.MaxAttempts, count)
			require.True(t, b.Exhausted())
		}
	}
}

func TestBackOff_Reset(t *testing.T) {
	b := NewBackOff(NetworkPolicy())
	b.NextBackOff()
	b.NextBackOff()
	assert.Equal(t, 2, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestBackOff_InjectedJitter(t *testing.T) {
	b := NewBackOff(StreamPolicy(), WithJitter(func(max time.Duration) time.Duration { return max }))
	assert.Equal(t, 1500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 2500*time.Millisecond, b.NextBackOff())
}

func TestBackOff_UnboundedAttempts(t *testing.T) {
	b := NewBackOff(Policy{Initial: time.Millisecond, Max: time.Millisecond})
	for i := 0; i < 100; i++ {
		require.Equal(t, time.Millisecond, b.NextBackOff())
	}
	assert.False(t, b.Exhausted())
}

type instantTimer struct {
	c     chan time.Time
	slept []time.Duration
}

func (t *instantTimer) Start(d time.Duration) {
	t.slept = append(t.slept, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func TestBackOff_DrivesBackoffRetry(t *testing.T) {
	timer := &instantTimer{}
	calls := 0
	err := backoff.RetryNotifyWithTimer(func() error {
		calls++
		return errors.New("still failing")
	}, NewBackOff(NetworkPolicy()), nil, timer)

	require.Error(t, err)
	assert.Equal(t, 6, calls, "one initial try plus five retries")
	assert.Equal(t, NetworkPolicy().Schedule(), timer.slept)
}
