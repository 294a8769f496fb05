package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mstanton/relay"
	"github.com/mstanton/relay/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(threshold int, timeout time.Duration) (*breaker.Registry, *testClock) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return breaker.NewRegistry(threshold, timeout, breaker.WithClock(clock.Now)), clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(5, time.Minute)
	b := reg.Get("claude")

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.NoError(t, b.Allow(), "breaker must stay closed below threshold")
	}

	b.RecordFailure() // fifth consecutive failure

	err := b.Allow()
	require.Error(t, err)
	var coe *relay.CircuitOpenError
	require.True(t, errors.As(err, &coe))
	assert.Equal(t, "claude", coe.Provider)
	assert.Equal(t, time.Minute, coe.RetryAfter)
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(3, time.Minute)
	b := reg.Get("claude")

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Only two consecutive failures since the success.
	assert.NoError(t, b.Allow())
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(2, time.Minute)
	b := reg.Get("claude")

	b.RecordFailure()
	b.RecordFailure()
	require.Error(t, b.Allow())

	clock.Advance(time.Minute)

	// Exactly one trial call is admitted.
	assert.NoError(t, b.Allow())
	err := b.Allow()
	require.Error(t, err)
	var coe *relay.CircuitOpenError
	assert.True(t, errors.As(err, &coe))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(2, time.Minute)
	b := reg.Get("claude")

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(time.Minute)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, breaker.StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(2, time.Minute)
	b := reg.Get("claude")

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, breaker.StateOpen, b.State())
	require.Error(t, b.Allow())

	// The recovery timer restarted at the probe failure.
	clock.Advance(30 * time.Second)
	require.Error(t, b.Allow())
	clock.Advance(30 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreaker_ReleaseProbeReadmitsWithoutRestartingTimer(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(2, time.Minute)
	b := reg.Get("claude")

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(time.Minute)
	require.NoError(t, b.Allow())

	// The trial call was cancelled before producing an outcome. The
	// trial slot comes back immediately; the breaker must not stay
	// wedged rejecting everything.
	b.ReleaseProbe()
	assert.NoError(t, b.Allow())

	// Even far in the future the slot keeps cycling.
	b.ReleaseProbe()
	clock.Advance(24 * time.Hour)
	assert.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_ReleaseProbeNoOpOutsideTrial(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(2, time.Minute)
	b := reg.Get("claude")

	// Closed: releasing changes nothing.
	b.ReleaseProbe()
	assert.Equal(t, breaker.StateClosed, b.State())
	assert.NoError(t, b.Allow())

	// Open with the timer still running: still rejected.
	b.RecordFailure()
	b.RecordFailure()
	b.ReleaseProbe()
	clock.Advance(30 * time.Second)
	require.Error(t, b.Allow())
}

func TestRegistry_LazyCreationAndReuse(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(5, time.Minute)

	a := reg.Get("claude")
	b := reg.Get("gemini")
	assert.NotSame(t, a, b)
	assert.Same(t, a, reg.Get("claude"))
}

func TestRegistry_BreakersAreIndependent(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(1, time.Minute)

	reg.Get("claude").RecordFailure()
	require.Error(t, reg.Get("claude").Allow())
	assert.NoError(t, reg.Get("gemini").Allow())
}

func TestRegistry_ZeroValuesSelectDefaults(t *testing.T) {
	t.Parallel()
	reg := breaker.NewRegistry(0, 0)
	b := reg.Get("claude")

	for i := 0; i < breaker.DefaultThreshold-1; i++ {
		b.RecordFailure()
		assert.NoError(t, b.Allow())
	}
	b.RecordFailure()
	assert.Error(t, b.Allow())
}
