package clock

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock issues timestamps for the event pipeline. Production code uses
// SystemClock; tests inject a FakeClock so cooldown and suppression windows
// can be advanced deterministically.
type Clock interface {
	// Now returns the current time. The returned value carries Go's
	// monotonic reading, so differences between two Now() results are safe
	// against wall-clock adjustments.
	Now() time.Time
	// NowISO returns the current time as an ISO-8601 UTC string.
	NowISO() string
}

// SystemClock reads the system clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (c SystemClock) NowISO() string { return FormatISO(c.Now()) }

// FormatISO renders t as an ISO-8601 UTC string with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ExtractTimestamp normalizes the timestamp shapes the platforms send:
// epoch milliseconds, epoch seconds, or an ISO string. When the payload
// carries nothing usable, the clock's current time is returned instead.
func ExtractTimestamp(c Clock, raw any) string {
	switch v := raw.(type) {
	case nil:
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			break
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return FormatISO(t)
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return FormatISO(t)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return FormatISO(fromEpoch(n))
		}
	case time.Time:
		if !v.IsZero() {
			return FormatISO(v)
		}
	case int64:
		if v > 0 {
			return FormatISO(fromEpoch(v))
		}
	case int:
		if v > 0 {
			return FormatISO(fromEpoch(int64(v)))
		}
	case float64:
		if v > 0 {
			return FormatISO(fromEpoch(int64(v)))
		}
	}
	return c.NowISO()
}

// fromEpoch guesses the epoch unit: values beyond the year ~33658 in seconds
// are treated as milliseconds.
func fromEpoch(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.Unix(0, n*int64(time.Millisecond))
	}
	return time.Unix(n, 0)
}

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) NowISO() string { return FormatISO(f.Now()) }

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
