package cooldown

import (
	"testing"
	"time"

	"github.com/you/streamops/internal/clock"
)

func TestPerUserCooldown(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := NewLedger(fake, 5*time.Second, 0)

	if !ledger.Allow("u1", "!one") {
		t.Fatal("first execution blocked")
	}
	ledger.Record("u1", "!one")

	if ledger.Allow("u1", "!one") {
		t.Fatal("second execution within window allowed")
	}
	if !ledger.Allow("u2", "!one") {
		t.Fatal("different user blocked by per-user ledger")
	}
	if !ledger.Allow("u1", "!two") {
		t.Fatal("different command blocked by per-user ledger")
	}

	fake.Advance(5100 * time.Millisecond)
	if !ledger.Allow("u1", "!one") {
		t.Fatal("execution after window blocked")
	}
}

func TestGlobalCooldownAcrossUsers(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := NewLedger(fake, 0, 2000*time.Millisecond)

	if !ledger.Allow("u1", "!spark") {
		t.Fatal("first execution blocked")
	}
	ledger.Record("u1", "!spark")

	fake.Advance(500 * time.Millisecond)
	if ledger.Allow("u2", "!spark") {
		t.Fatal("global ledger did not block second user at t=500ms")
	}

	fake.Advance(1600 * time.Millisecond) // t=2100ms
	if !ledger.Allow("u2", "!spark") {
		t.Fatal("global ledger still blocking at t=2100ms")
	}
}

func TestZeroTTLDisables(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := NewLedger(fake, 0, 0)

	ledger.Record("u1", "!one")
	if !ledger.Allow("u1", "!one") {
		t.Fatal("disabled ledger blocked execution")
	}
	perUser, global := ledger.Size()
	if perUser != 0 || global != 0 {
		t.Fatalf("disabled ledger stored entries: %d/%d", perUser, global)
	}
}

func TestSweepReclaimsExpired(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := NewLedger(fake, time.Second, time.Second)

	ledger.Record("u1", "!one")
	ledger.Record("u2", "!two")

	fake.Advance(2 * time.Second)
	ledger.Sweep()

	perUser, global := ledger.Size()
	if perUser != 0 || global != 0 {
		t.Fatalf("sweep left %d/%d entries", perUser, global)
	}
}
