// Package ratelimit implements the per-user, dual-window admission control
// that gates every inbound chat message before it reaches the pipeline.
package ratelimit

import (
	"sync"
	"time"

	"github.com/lumenchat/chatcore/internal/logger"
)

// LimitType identifies which bucket denied a request, or "error" for an
// invalid userId.
type LimitType string

const (
	LimitTypeMinute LimitType = "minute"
	LimitTypeHour   LimitType = "hour"
	LimitTypeError  LimitType = "error"
)

// Config tunes the limiter. Zero values fall back to sane defaults.
type Config struct {
	MinuteCapacity  int
	HourCapacity    int
	MaxTrackedUsers int
	GCInterval      time.Duration
	RecordTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinuteCapacity <= 0 {
		c.MinuteCapacity = 60
	}
	if c.HourCapacity <= 0 {
		c.HourCapacity = 500
	}
	if c.MaxTrackedUsers <= 0 {
		c.MaxTrackedUsers = 100_000
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 2 * time.Hour
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = 24 * time.Hour
	}
	return c
}

// Window names the two independently refilled buckets tracked per user.
type Window struct {
	capacity          int
	refillPerInterval int
	intervalMs        int64

	tokens     float64
	lastRefill int64 // unix millis
}

func newWindow(capacity int, intervalMs int64) *Window {
	return &Window{
		capacity:          capacity,
		refillPerInterval: capacity,
		intervalMs:        intervalMs,
		tokens:            float64(capacity),
		lastRefill:        nowMillis(),
	}
}

// refill grants whole-interval token batches for elapsed wall-clock time,
// clamping a backward clock jump to a resync (no tokens granted) and a
// forward jump to 2 intervals' worth. Must be called with the owning
// record's lock held.
func (w *Window) refill(nowMs int64) {
	elapsed := nowMs - w.lastRefill
	if elapsed < 0 {
		// Clock went backward: resync without granting tokens.
		w.lastRefill = nowMs
		return
	}
	maxElapsed := 2 * w.intervalMs
	if elapsed > maxElapsed {
		elapsed = maxElapsed
	}
	intervals := elapsed / w.intervalMs
	if intervals < 1 {
		return
	}
	granted := float64(intervals * int64(w.refillPerInterval))
	w.tokens += granted
	if w.tokens > float64(w.capacity) {
		w.tokens = float64(w.capacity)
	}
	w.lastRefill = nowMs
}

func (w *Window) resetAt(nowMs int64) time.Time {
	return millisToTime(w.lastRefill + w.intervalMs)
}

// UserLimitRecord is the per-user rate-limit state.
type UserLimitRecord struct {
	mu            sync.Mutex
	minute        *Window
	hour          *Window
	totalRequests int64
	firstRequest  int64
	lastRequest   int64
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed      bool
	RetryAfterMs int64
	Remaining    Pair
	Limit        Pair
	ResetAt      PairTime
	LimitType    LimitType
}

// Pair bundles a minute/hour value together.
type Pair struct {
	Minute int
	Hour   int
}

// PairTime bundles a minute/hour reset timestamp together.
type PairTime struct {
	Minute time.Time
	Hour   time.Time
}

// Snapshot is a read-only view of a user's current limiter state.
type Snapshot struct {
	Remaining Pair
	Limit     Pair
	ResetAt   PairTime
}

// Stats summarizes the limiter's overall state.
type Stats struct {
	TotalUsers int
	Config     Config
}

// Limiter is the process-wide rate limiter (C1). One instance is shared by
// every pipeline invocation; construct with New and call Destroy on shutdown.
type Limiter struct {
	cfg Config
	log *logger.Logger

	mu      sync.RWMutex
	records map[string]*UserLimitRecord

	stopGC chan struct{}
	gcOnce sync.Once
}

// New constructs a Limiter and starts its background GC sweep.
func New(cfg Config, log *logger.Logger) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:     cfg,
		log:     log.WithComponent("ratelimit"),
		records: make(map[string]*UserLimitRecord),
		stopGC:  make(chan struct{}),
	}
	go l.runGC()
	return l
}

func (l *Limiter) runGC() {
	ticker := time.NewTicker(l.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.gcSweep()
		case <-l.stopGC:
			return
		}
	}
}

// gcSweep removes records whose lastRequest is older than RecordTTL.
func (l *Limiter) gcSweep() int {
	cutoff := nowMillis() - l.cfg.RecordTTL.Milliseconds()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for userID, rec := range l.records {
		rec.mu.Lock()
		last := rec.lastRequest
		rec.mu.Unlock()
		if last < cutoff {
			delete(l.records, userID)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug("rate limiter GC swept stale records", "removed", removed)
	}
	return removed
}

// evictOldest removes the record with the smallest lastRequest. Caller must
// hold l.mu for writing.
func (l *Limiter) evictOldest() {
	var oldestUser string
	var oldestTime int64 = -1
	for userID, rec := range l.records {
		rec.mu.Lock()
		last := rec.lastRequest
		rec.mu.Unlock()
		if oldestTime == -1 || last < oldestTime {
			oldestTime = last
			oldestUser = userID
		}
	}
	if oldestUser != "" {
		delete(l.records, oldestUser)
		l.log.Warn("rate limiter at capacity, evicted oldest record", "user_id", oldestUser)
	}
}

func errorDecision() Decision {
	return Decision{
		Allowed:      false,
		RetryAfterMs: 60_000,
		Remaining:    Pair{0, 0},
		LimitType:    LimitTypeError,
	}
}

// CheckLimit performs the atomic admit-or-deny check against both the
// per-minute and per-hour windows. It is safe for concurrent use by many
// goroutines, including
// concurrent calls for the same userID.
func (l *Limiter) CheckLimit(userID string) Decision {
	if userID == "" {
		return errorDecision()
	}

	rec := l.getOrCreateRecord(userID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := nowMillis()
	rec.minute.refill(now)
	rec.hour.refill(now)

	canProceed := rec.minute.tokens >= 1 && rec.hour.tokens >= 1
	if canProceed {
		rec.minute.tokens -= 1
		if rec.minute.tokens < 0 {
			rec.minute.tokens = 0
		}
		rec.hour.tokens -= 1
		if rec.hour.tokens < 0 {
			rec.hour.tokens = 0
		}
		rec.totalRequests++
		rec.lastRequest = now

		return Decision{
			Allowed: true,
			Remaining: Pair{
				Minute: int(rec.minute.tokens),
				Hour:   int(rec.hour.tokens),
			},
			Limit: Pair{
				Minute: rec.minute.capacity,
				Hour:   rec.hour.capacity,
			},
			ResetAt: PairTime{
				Minute: rec.minute.resetAt(now),
				Hour:   rec.hour.resetAt(now),
			},
		}
	}

	limitType := LimitTypeMinute
	blocking := rec.minute
	if rec.minute.tokens >= 1 {
		// Minute bucket had room; the hour bucket is what blocked.
		limitType = LimitTypeHour
		blocking = rec.hour
	}
	retryAfter := blocking.lastRefill + blocking.intervalMs - now
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Decision{
		Allowed:      false,
		RetryAfterMs: retryAfter,
		LimitType:    limitType,
		Remaining: Pair{
			Minute: int(rec.minute.tokens),
			Hour:   int(rec.hour.tokens),
		},
		Limit: Pair{
			Minute: rec.minute.capacity,
			Hour:   rec.hour.capacity,
		},
		ResetAt: PairTime{
			Minute: rec.minute.resetAt(now),
			Hour:   rec.hour.resetAt(now),
		},
	}
}

func (l *Limiter) getOrCreateRecord(userID string) *UserLimitRecord {
	l.mu.RLock()
	rec, ok := l.records[userID]
	l.mu.RUnlock()
	if ok {
		return rec
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[userID]; ok {
		return rec
	}

	if len(l.records) >= l.cfg.MaxTrackedUsers {
		l.mu.Unlock()
		l.gcSweep()
		l.mu.Lock()
		if len(l.records) >= l.cfg.MaxTrackedUsers {
			l.evictOldest()
		}
	}

	now := nowMillis()
	rec = &UserLimitRecord{
		minute:       newWindow(l.cfg.MinuteCapacity, 60_000),
		hour:         newWindow(l.cfg.HourCapacity, 3_600_000),
		firstRequest: now,
		lastRequest:  now,
	}
	l.records[userID] = rec
	return rec
}

// GetStatus returns a read-only snapshot of a user's current state without
// consuming a token. A user with no record yet is reported at full capacity.
func (l *Limiter) GetStatus(userID string) Snapshot {
	l.mu.RLock()
	rec, ok := l.records[userID]
	l.mu.RUnlock()

	if !ok {
		now := nowMillis()
		return Snapshot{
			Remaining: Pair{l.cfg.MinuteCapacity, l.cfg.HourCapacity},
			Limit:     Pair{l.cfg.MinuteCapacity, l.cfg.HourCapacity},
			ResetAt: PairTime{
				Minute: millisToTime(now + 60_000),
				Hour:   millisToTime(now + 3_600_000),
			},
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := nowMillis()
	rec.minute.refill(now)
	rec.hour.refill(now)

	return Snapshot{
		Remaining: Pair{int(rec.minute.tokens), int(rec.hour.tokens)},
		Limit:     Pair{rec.minute.capacity, rec.hour.capacity},
		ResetAt: PairTime{
			Minute: rec.minute.resetAt(now),
			Hour:   rec.hour.resetAt(now),
		},
	}
}

// StatsSnapshot reports the limiter's overall bookkeeping state.
func (l *Limiter) StatsSnapshot() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{TotalUsers: len(l.records), Config: l.cfg}
}

// Destroy stops the background GC sweep so the process can exit cleanly.
// Safe to call more than once.
func (l *Limiter) Destroy() {
	l.gcOnce.Do(func() {
		close(l.stopGC)
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
