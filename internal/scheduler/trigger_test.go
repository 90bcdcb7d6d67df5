package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrigger_PlainCrontab(t *testing.T) {
	sched, err := ParseTrigger("0 9 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	assert.Equal(t, time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC), next)
}

func TestParseTrigger_SignedOffsetDelays(t *testing.T) {
	sched, err := ParseTrigger(SignedOffsetTrigger("0 9 * * *", 30))
	require.NoError(t, err)

	from := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	assert.Equal(t, time.Date(2026, 7, 31, 9, 0, 30, 0, time.UTC), next)
}

func TestParseTrigger_SignedOffsetFiresEarlier(t *testing.T) {
	sched, err := ParseTrigger(SignedOffsetTrigger("0 9 * * *", -30))
	require.NoError(t, err)

	from := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	assert.Equal(t, time.Date(2026, 7, 31, 8, 59, 30, 0, time.UTC), next)
}

func TestParseTrigger_MalformedOffset(t *testing.T) {
	_, err := ParseTrigger("offset:notanumber:0 9 * * *")
	assert.Error(t, err)
}

func TestParseTrigger_InvalidCrontab(t *testing.T) {
	_, err := ParseTrigger("not a crontab")
	assert.Error(t, err)
}
