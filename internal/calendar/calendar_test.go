package calendar

import (
	"testing"
	"time"
)

func TestCryptoCalendarAlwaysOpen(t *testing.T) {
	r := NewRegistry()

	days := []time.Time{
		time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC), // Saturday
		time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC), // Sunday
		time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC), // Monday
	}

	for _, d := range days {
		if !r.IsSession(MICCrypto, d) {
			t.Errorf("IsSession(CRYPTO, %v) = false, want true", d)
		}
	}
}

func TestForexCalendarSkipsSaturday(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		day  time.Time
		want bool
	}{
		{"Saturday closed", time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC), false},
		{"Sunday open", time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC), true},
		{"Monday open", time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC), true},
		{"Friday open", time.Date(2025, 12, 19, 12, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.IsSession(MICForex, tt.day)
			if got != tt.want {
				t.Errorf("IsSession(XFX, %v) = %v, want %v", tt.day, got, tt.want)
			}
		})
	}
}

func TestUnknownMICDefaultsOpen(t *testing.T) {
	r := NewRegistry()
	day := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC) // Saturday

	if !r.IsOpenNow("ZZZZ") {
		t.Error("IsOpenNow for unknown MIC should default to true")
	}
	if !r.IsSession("ZZZZ", day) {
		t.Error("IsSession for unknown MIC should default to true")
	}
	if !r.HasSessionsInRange("ZZZZ", day, day) {
		t.Error("HasSessionsInRange for unknown MIC should default to true")
	}
}

func TestHasSessionsInRangeCalendarGateSkipsSaturday(t *testing.T) {
	r := NewRegistry()
	r.Register("XNAS", newWeekmaskCalendar(time.UTC, [7]bool{false, true, true, true, true, true, false}))

	sat := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)
	got := r.HasSessionsInRange("XNAS", sat, sat)
	if got {
		t.Error("HasSessionsInRange(XNAS, Sat, Sat) should be false")
	}
}

func TestHasSessionsInRangeCalendarGatePermitsMidWeek(t *testing.T) {
	r := NewRegistry()
	r.Register("XNAS", newWeekmaskCalendar(time.UTC, [7]bool{false, true, true, true, true, true, false}))

	start := time.Date(2025, 12, 18, 0, 0, 0, 0, time.UTC) // Thursday
	end := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)   // Saturday
	got := r.HasSessionsInRange("XNAS", start, end)
	if !got {
		t.Error("HasSessionsInRange(XNAS, Thu, Sat) should be true")
	}
}

func TestBuiltinEquityMICLoadsLazily(t *testing.T) {
	r := NewRegistry()

	sat := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	mon := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)

	if r.IsSession("XNYS", sat) {
		t.Error("IsSession(XNYS, Saturday) = true, want false")
	}
	if !r.IsSession("XNYS", mon) {
		t.Error("IsSession(XNYS, Monday) = false, want true")
	}
}

func TestRegisterIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register("xnas", newWeekmaskCalendar(time.UTC, [7]bool{false, true, true, true, true, true, false}))

	mon := time.Date(2025, 12, 22, 0, 0, 0, 0, time.UTC)
	if !r.IsSession("XNAS", mon) {
		t.Error("Register should normalize MIC case")
	}
}
