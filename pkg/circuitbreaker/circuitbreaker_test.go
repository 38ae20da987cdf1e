package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestCircuitBreaker_PassesErrorsThrough(t *testing.T) {
	cb := New(testConfig(), clockwork.NewFakeClock())

	assert.NoError(t, cb.Execute(succeed))
	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Failures)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := New(testConfig(), clockwork.NewFakeClock())

	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	cb := New(testConfig(), clockwork.NewFakeClock())

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.EqualValues(t, 1, cb.Stats().Rejected)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := New(testConfig(), clock)

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(10 * time.Second)

	require.NoError(t, cb.Execute(succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := New(testConfig(), clock)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(10 * time.Second)

	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, clock.Now(), cb.Stats().OpenedAt)
	assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := New(testConfig(), clock)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(10 * time.Second)

	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(succeed)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(testConfig(), clockwork.NewFakeClock())

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(succeed))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
