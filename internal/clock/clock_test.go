package clock

import (
	"testing"
	"time"
)

func TestFormatISO(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 30, 45, 120_000_000, time.UTC)
	got := FormatISO(ts)
	want := "2024-01-01T12:30:45.120Z"
	if got != want {
		t.Fatalf("FormatISO = %q, want %q", got, want)
	}
}

func TestExtractTimestamp(t *testing.T) {
	fake := NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"epoch millis", int64(1704067200000), "2024-01-01T00:00:00.000Z"},
		{"epoch seconds", int64(1704067200), "2024-01-01T00:00:00.000Z"},
		{"epoch millis float", float64(1704067200000), "2024-01-01T00:00:00.000Z"},
		{"iso string", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00.000Z"},
		{"numeric string", "1704067200", "2024-01-01T00:00:00.000Z"},
		{"nil falls back to clock", nil, "2024-06-01T00:00:00.000Z"},
		{"empty string falls back", "   ", "2024-06-01T00:00:00.000Z"},
		{"garbage falls back", "not a time", "2024-06-01T00:00:00.000Z"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractTimestamp(fake, tc.raw); got != tc.want {
				t.Fatalf("ExtractTimestamp(%v) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFakeClockAdvance(t *testing.T) {
	fake := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	before := fake.Now()
	fake.Advance(2500 * time.Millisecond)
	if d := fake.Now().Sub(before); d != 2500*time.Millisecond {
		t.Fatalf("advanced %s, want 2.5s", d)
	}
}
