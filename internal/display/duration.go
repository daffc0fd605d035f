package display

import (
	"strings"
	"time"
)

// Timing sizes the on-screen window from the item's TTS content. Items
// without TTS get a zero window and advance immediately.
type Timing struct {
	PerWord time.Duration
	LeadIn  time.Duration
	Tail    time.Duration
	Min     time.Duration
	Max     time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.PerWord <= 0 {
		t.PerWord = 350 * time.Millisecond
	}
	if t.LeadIn <= 0 {
		t.LeadIn = 800 * time.Millisecond
	}
	if t.Tail <= 0 {
		t.Tail = 400 * time.Millisecond
	}
	if t.Min <= 0 {
		t.Min = 2000 * time.Millisecond
	}
	if t.Max <= 0 {
		t.Max = 20000 * time.Millisecond
	}
	return t
}

func (t Timing) Window(ttsMessage string) time.Duration {
	if strings.TrimSpace(ttsMessage) == "" {
		return 0
	}
	words := len(strings.Fields(ttsMessage))
	d := t.LeadIn + time.Duration(words)*t.PerWord + t.Tail
	if d < t.Min {
		d = t.Min
	}
	if d > t.Max {
		d = t.Max
	}
	return d
}
