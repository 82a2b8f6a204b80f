package ratelimit

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lumenchat/chatcore/internal/logger"
)

func newTestLimiter(cfg Config) *Limiter {
	log := logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
	return New(cfg, log)
}

func TestCheckLimitRejectsEmptyUser(t *testing.T) {
	l := newTestLimiter(Config{})
	defer l.Destroy()

	d := l.CheckLimit("")
	if d.Allowed {
		t.Fatalf("expected empty userId to be denied")
	}
	if d.LimitType != LimitTypeError {
		t.Fatalf("expected limitType error, got %q", d.LimitType)
	}
	if d.RetryAfterMs != 60_000 {
		t.Fatalf("expected retryAfterMs 60000, got %d", d.RetryAfterMs)
	}
}

func TestCheckLimitAllowsWithinCapacity(t *testing.T) {
	l := newTestLimiter(Config{MinuteCapacity: 60, HourCapacity: 500})
	defer l.Destroy()

	for i := 0; i < 60; i++ {
		d := l.CheckLimit("u2")
		if !d.Allowed {
			t.Fatalf("admit %d: expected allowed, got denied (limitType=%s)", i+1, d.LimitType)
		}
	}

	d := l.CheckLimit("u2")
	if d.Allowed {
		t.Fatalf("admit 61: expected denied")
	}
	if d.LimitType != LimitTypeMinute {
		t.Fatalf("admit 61: expected limitType minute, got %q", d.LimitType)
	}
}

func TestCheckLimitBurstExactlyMinK(t *testing.T) {
	l := newTestLimiter(Config{MinuteCapacity: 5, HourCapacity: 500})
	defer l.Destroy()

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.CheckLimit("u3").Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected exactly 5 admits out of 20 for a 5-token bucket, got %d", allowed)
	}
}

func TestCheckLimitConcurrentBurstIsRaceFree(t *testing.T) {
	l := newTestLimiter(Config{MinuteCapacity: 50, HourCapacity: 500})
	defer l.Destroy()

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			d := l.CheckLimit("u4")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("expected exactly 50 allowed out of %d concurrent admits, got %d", n, allowed)
	}
}

func TestWindowRefillBackwardClock(t *testing.T) {
	w := newWindow(10, 60_000)
	w.tokens = 0
	w.lastRefill = nowMillis() + 1_000_000 // simulate a window that thinks it's in the future

	before := w.tokens
	w.refill(nowMillis())
	if w.tokens != before {
		t.Fatalf("expected no tokens granted on backward clock, got %v -> %v", before, w.tokens)
	}
}

func TestWindowRefillCapsForwardJump(t *testing.T) {
	w := newWindow(10, 1000) // 1s interval, 10 tokens/interval
	w.tokens = 0
	w.lastRefill = nowMillis() - 60_000 // 60s elapsed, way more than 2x interval

	w.refill(nowMillis())
	if w.tokens > float64(w.capacity) {
		t.Fatalf("tokens exceeded capacity after forward jump: %v", w.tokens)
	}
	// Capped at 2x interval => 2 intervals => 2*10 = 20, clamped to capacity 10.
	if w.tokens != float64(w.capacity) {
		t.Fatalf("expected tokens clamped to capacity %d, got %v", w.capacity, w.tokens)
	}
}

func TestCheckLimitNeverNegative(t *testing.T) {
	l := newTestLimiter(Config{MinuteCapacity: 1, HourCapacity: 1})
	defer l.Destroy()

	l.CheckLimit("u5")
	d := l.CheckLimit("u5")
	if d.Remaining.Minute < 0 || d.Remaining.Hour < 0 {
		t.Fatalf("observed negative remaining tokens: %+v", d.Remaining)
	}
}

func TestGetStatusDoesNotConsumeTokens(t *testing.T) {
	l := newTestLimiter(Config{MinuteCapacity: 5, HourCapacity: 500})
	defer l.Destroy()

	l.CheckLimit("u6")
	before := l.GetStatus("u6")
	after := l.GetStatus("u6")
	if before.Remaining.Minute != after.Remaining.Minute {
		t.Fatalf("GetStatus must not consume tokens: %+v -> %+v", before, after)
	}
}

func TestGCSweepRemovesStaleRecords(t *testing.T) {
	l := newTestLimiter(Config{MinuteCapacity: 5, HourCapacity: 500, RecordTTL: time.Millisecond})
	defer l.Destroy()

	l.CheckLimit("stale-user")
	time.Sleep(5 * time.Millisecond)

	removed := l.gcSweep()
	if removed != 1 {
		t.Fatalf("expected gcSweep to remove 1 stale record, removed %d", removed)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	l := newTestLimiter(Config{})
	l.Destroy()
	l.Destroy()
}
