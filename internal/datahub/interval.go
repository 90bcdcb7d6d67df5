package datahub

import "github.com/instrumentdata/platform/internal/enum"

// enumIntervalOrRaw normalizes raw against the closed Interval set, falling
// back to the raw value unchanged if it is not recognized — subscription
// rows are operator-entered and a still-pending interval should not block
// dispatch.
func enumIntervalOrRaw(raw string) enum.Interval {
	if normalized, ok := enum.NormalizeInterval(raw); ok {
		return enum.Interval(normalized)
	}
	return enum.Interval(raw)
}
