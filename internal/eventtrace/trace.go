package eventtrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage represents a pipeline stage used for tracking event processing.
type Stage string

const (
	StageSeenOnBus  Stage = "seen_on_bus"
	StageRecorded   Stage = "user_recorded"
	StageCommandRun Stage = "command_run"
	StageEnqueued   Stage = "enqueued_for_display"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped event with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// Trace captures metadata for one event as it moves through the pipeline.
type Trace struct {
	Platform string
	UserID   string
	Username string
	Snippet  string
	TraceID  string

	mu       sync.Mutex
	counters map[Stage]int64
}

// New constructs a trace from event metadata and seeds the seen_on_bus
// counter.
func New(platform, userID, username, text string) *Trace {
	snippet := text
	if len(snippet) > 48 {
		snippet = snippet[:48]
	}
	t := &Trace{
		Platform: platform,
		UserID:   userID,
		Username: username,
		Snippet:  snippet,
		TraceID:  computeTraceID(platform, userID, username, text),
		counters: make(map[Stage]int64),
	}
	t.counters[StageSeenOnBus] = 1
	return t
}

// Inc increments the counter for the provided stage and returns the updated
// value.
func (t *Trace) Inc(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Log writes the trace metadata and counters using structured logging.
func (t *Trace) Log(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug(msg,
		"trace_id", t.TraceID,
		"platform", t.Platform,
		"user_id", t.UserID,
		"username", t.Username,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *Trace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(platform, userID, username, text string) string {
	digest := sha256.Sum256([]byte(platform + "\x1f" + userID + "\x1f" + username + "\x1f" + text))
	return hex.EncodeToString(digest[:])
}
