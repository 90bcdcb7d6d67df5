package datahub

import "encoding/json"

// preferences mirrors a code_registry row's preferences JSONB blob. Only the
// scheduling and data sub-objects are consulted by the collector;
// unknown keys are ignored.
type preferences struct {
	Scheduling struct {
		DelayHoursSet      bool `json:"-"`
		DelayHours         int  `json:"delay_hours"`
		PreCloseSecondsSet bool `json:"-"`
		PreCloseSeconds    int  `json:"pre_close_seconds"`
		PostCloseSecondsSet bool `json:"-"`
		PostCloseSeconds   int  `json:"post_close_seconds"`
		SyncFrequency      string `json:"sync_frequency"`
		ImmediatePull      bool   `json:"immediate_pull"`
	} `json:"scheduling"`
	Data struct {
		LookbackDaysSet bool `json:"-"`
		LookbackDays    int  `json:"lookback_days"`
	} `json:"data"`
}

const (
	defaultLiveOffsetSeconds = 30
	defaultLookbackDays      = 8000
	defaultSyncFrequency     = "1w"
)

// parsePreferences decodes raw (a code_registry.preferences JSONB value) and
// records, per field, whether the caller explicitly set it — distinguishing
// "preference present but zero" from "preference absent," which matters for
// lookback_days (an explicit lookback_days changes the
// back-fill log message even when numerically equal to the default).
func parsePreferences(raw []byte) preferences {
	var p preferences
	p.Scheduling.PreCloseSeconds = defaultLiveOffsetSeconds
	p.Scheduling.ImmediatePull = true
	p.Data.LookbackDays = defaultLookbackDays
	p.Scheduling.SyncFrequency = defaultSyncFrequency

	if len(raw) == 0 {
		return p
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return p
	}

	if schedRaw, ok := generic["scheduling"]; ok {
		var sched map[string]json.RawMessage
		if err := json.Unmarshal(schedRaw, &sched); err == nil {
			if v, ok := sched["delay_hours"]; ok {
				p.Scheduling.DelayHoursSet = true
				_ = json.Unmarshal(v, &p.Scheduling.DelayHours)
			}
			if v, ok := sched["pre_close_seconds"]; ok {
				p.Scheduling.PreCloseSecondsSet = true
				_ = json.Unmarshal(v, &p.Scheduling.PreCloseSeconds)
			}
			if v, ok := sched["post_close_seconds"]; ok {
				p.Scheduling.PostCloseSecondsSet = true
				_ = json.Unmarshal(v, &p.Scheduling.PostCloseSeconds)
			}
			if v, ok := sched["sync_frequency"]; ok {
				_ = json.Unmarshal(v, &p.Scheduling.SyncFrequency)
			}
			if v, ok := sched["immediate_pull"]; ok {
				_ = json.Unmarshal(v, &p.Scheduling.ImmediatePull)
			}
		}
	}

	if dataRaw, ok := generic["data"]; ok {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(dataRaw, &data); err == nil {
			if v, ok := data["lookback_days"]; ok {
				p.Data.LookbackDaysSet = true
				_ = json.Unmarshal(v, &p.Data.LookbackDays)
			}
		}
	}

	return p
}
