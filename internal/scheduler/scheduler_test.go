package scheduler

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return New(zerolog.Nop())
}

func TestAddReplacesExistingKey(t *testing.T) {
	s := newTestScheduler()

	require.NoError(t, s.Add("p|1d|0 9 * * *", "0 9 * * *", func(args any) {}, 1))
	assert.True(t, s.Has("p|1d|0 9 * * *"))

	require.NoError(t, s.Add("p|1d|0 9 * * *", "0 10 * * *", func(args any) {}, 2))
	keys := s.Keys()
	assert.Len(t, keys, 1)
}

func TestModifyUpdatesArgsWithoutRescheduling(t *testing.T) {
	s := newTestScheduler()

	require.NoError(t, s.Add("job", "0 9 * * *", func(args any) {}, []string{"AAPL"}))
	s.Modify("job", []string{"AAPL", "MSFT"})

	s.mu.Lock()
	args := s.entries["job"].args
	s.mu.Unlock()
	assert.Equal(t, []string{"AAPL", "MSFT"}, args)
}

func TestModifyUnknownKeyIsNoop(t *testing.T) {
	s := newTestScheduler()
	assert.NotPanics(t, func() { s.Modify("missing", nil) })
}

func TestRemove(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Add("job", "0 9 * * *", func(args any) {}, nil))
	s.Remove("job")
	assert.False(t, s.Has("job"))
}

func TestRemoveUnknownKeyIsNoop(t *testing.T) {
	s := newTestScheduler()
	assert.NotPanics(t, func() { s.Remove("missing") })
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestScheduler()
	assert.Equal(t, StateStopped, s.State())

	s.Start()
	assert.Equal(t, StateRunning, s.State())
	s.Start()
	assert.Equal(t, StateRunning, s.State())

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	s.Stop()
	assert.Equal(t, StateStopped, s.State())
}

func TestRunNowExecutesImmediately(t *testing.T) {
	s := newTestScheduler()
	ran := false
	s.RunNow(func(args any) { ran = true }, nil)
	assert.True(t, ran)
}
