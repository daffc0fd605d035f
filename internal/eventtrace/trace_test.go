package eventtrace

import "testing"

func TestTraceIDDeterminism(t *testing.T) {
	first := New("twitch", "u1", "user1", "hello world")
	second := New("twitch", "u1", "user1", "hello world")
	if first.TraceID != second.TraceID {
		t.Fatalf("expected deterministic trace id, got %q and %q", first.TraceID, second.TraceID)
	}

	different := New("twitch", "u1", "user1", "hello mars")
	if first.TraceID == different.TraceID {
		t.Fatalf("expected different trace id when text changes")
	}
}

func TestCounterIncrements(t *testing.T) {
	trace := New("youtube", "u2", "user2", "hi there")

	if count := trace.Inc(StageRecorded); count != 1 {
		t.Fatalf("expected user_recorded to be 1, got %d", count)
	}

	if count := trace.Inc(StageDropped("stale")); count != 1 {
		t.Fatalf("expected dropped_stale to be 1, got %d", count)
	}

	if count := trace.Inc(StageDropped("stale")); count != 2 {
		t.Fatalf("expected dropped_stale to be 2 after increment, got %d", count)
	}

	if count := trace.Inc(StageEnqueued); count != 1 {
		t.Fatalf("expected enqueued_for_display to be 1, got %d", count)
	}
}

func TestSnippetTruncation(t *testing.T) {
	long := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	trace := New("tiktok", "u3", "user3", long)
	if len(trace.Snippet) != 48 {
		t.Fatalf("expected snippet capped at 48, got %d", len(trace.Snippet))
	}
}
