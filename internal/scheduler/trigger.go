package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var timeUTC = time.UTC

// offsetPrefix marks a signed-offset crontab trigger: "offset:<seconds>:<crontab>".
// Positive seconds delay the fire time, negative seconds fire earlier — used
// by realtime jobs to begin receiving data before interval close.
const offsetPrefix = "offset:"

// ParseTrigger parses one of the two trigger dialects: a plain 5-field
// crontab string, or a signed-offset
// crontab of the form "offset:<seconds>:<crontab>".
func ParseTrigger(trigger string) (cron.Schedule, error) {
	if !strings.HasPrefix(trigger, offsetPrefix) {
		sched, err := cron.ParseStandard(trigger)
		if err != nil {
			return nil, fmt.Errorf("parsing crontab trigger %q: %w", trigger, err)
		}
		return sched, nil
	}

	rest := strings.TrimPrefix(trigger, offsetPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed signed-offset crontab %q: expected offset:<seconds>:<crontab>", trigger)
	}

	offsetSeconds, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed offset in signed-offset crontab %q: %w", trigger, err)
	}

	base, err := cron.ParseStandard(parts[1])
	if err != nil {
		return nil, fmt.Errorf("parsing signed-offset crontab %q: %w", trigger, err)
	}

	return &offsetSchedule{base: base, offset: time.Duration(offsetSeconds) * time.Second}, nil
}

// SignedOffsetTrigger builds the canonical signed-offset crontab string for
// baseCrontab shifted by offsetSeconds.
func SignedOffsetTrigger(baseCrontab string, offsetSeconds int) string {
	return fmt.Sprintf("%s%d:%s", offsetPrefix, offsetSeconds, baseCrontab)
}

// offsetSchedule wraps a cron.Schedule and shifts every computed fire time
// by a fixed signed duration.
type offsetSchedule struct {
	base   cron.Schedule
	offset time.Duration
}

func (o *offsetSchedule) Next(t time.Time) time.Time {
	return o.base.Next(t.Add(-o.offset)).Add(o.offset)
}
