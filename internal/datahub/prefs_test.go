package datahub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePreferencesDefaults(t *testing.T) {
	p := parsePreferences(nil)
	assert.Equal(t, defaultLiveOffsetSeconds, p.Scheduling.PreCloseSeconds)
	assert.Equal(t, defaultLookbackDays, p.Data.LookbackDays)
	assert.Equal(t, defaultSyncFrequency, p.Scheduling.SyncFrequency)
	assert.True(t, p.Scheduling.ImmediatePull)
	assert.False(t, p.Data.LookbackDaysSet)
}

func TestParsePreferencesImmediatePullDisabled(t *testing.T) {
	p := parsePreferences([]byte(`{"scheduling":{"immediate_pull":false}}`))
	assert.False(t, p.Scheduling.ImmediatePull)
}

func TestParsePreferencesExplicitValues(t *testing.T) {
	raw := []byte(`{"scheduling":{"delay_hours":2,"pre_close_seconds":10,"post_close_seconds":5,"sync_frequency":"1d"},"data":{"lookback_days":30}}`)
	p := parsePreferences(raw)

	assert.Equal(t, 2, p.Scheduling.DelayHours)
	assert.True(t, p.Scheduling.DelayHoursSet)
	assert.Equal(t, 10, p.Scheduling.PreCloseSeconds)
	assert.Equal(t, 5, p.Scheduling.PostCloseSeconds)
	assert.True(t, p.Scheduling.PostCloseSecondsSet)
	assert.Equal(t, "1d", p.Scheduling.SyncFrequency)
	assert.Equal(t, 30, p.Data.LookbackDays)
	assert.True(t, p.Data.LookbackDaysSet)
}

func TestParsePreferencesMalformedJSONFallsBackToDefaults(t *testing.T) {
	p := parsePreferences([]byte(`not json`))
	assert.Equal(t, defaultLookbackDays, p.Data.LookbackDays)
}
