// Package capacity recommends batch sizes from backing-store signals.
package capacity

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"
)

// Tier buckets the backing store by connection headroom and latency.
type Tier string

const (
	TierMicro    Tier = "micro"
	TierSmall    Tier = "small"
	TierStandard Tier = "standard"
	TierLarge    Tier = "large"
)

type preset struct {
	conservative int
	moderate     int
	aggressive   int
	maxConns     int
}

var tierPresets = map[Tier]preset{
	TierMicro:    {conservative: 25, moderate: 40, aggressive: 50, maxConns: 500},
	TierSmall:    {conservative: 50, moderate: 75, aggressive: 100, maxConns: 1500},
	TierStandard: {conservative: 100, moderate: 150, aggressive: 200, maxConns: 3000},
	TierLarge:    {conservative: 150, moderate: 250, aggressive: 350, maxConns: 6000},
}

// Mode selects which preset column to start from.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeModerate     Mode = "moderate"
	ModeAggressive   Mode = "aggressive"
)

// LoadReporter exposes queue-side signals used to nudge the recommendation.
type LoadReporter interface {
	Depth(ctx context.Context) (int, error)
	RecentAvgProcessingMs(ctx context.Context) (float64, error)
}

const (
	minBatchSize     = 20
	slowProcessingMs = 5000
	fastProcessingMs = 1000
	highQueueDepth   = 200
	lowQueueDepth    = 50
	defaultCacheTTL  = 5 * time.Minute
)

// Advisor probes the database and queue and recommends a lease size.
// Probing is cheap but not free, so the recommendation is cached briefly.
type Advisor struct {
	db   *sql.DB
	load LoadReporter
	mode Mode

	mu       sync.Mutex
	cached   int
	cachedAt time.Time
	cacheTTL time.Duration
	now      func() time.Time
}

func NewAdvisor(db *sql.DB, load LoadReporter, mode Mode) *Advisor {
	if mode == "" {
		mode = ModeModerate
	}
	return &Advisor{db: db, load: load, mode: mode, cacheTTL: defaultCacheTTL, now: time.Now}
}

// RecommendBatchSize never fails: probe errors fall back to the most
// conservative tier.
func (a *Advisor) RecommendBatchSize(ctx context.Context) int {
	a.mu.Lock()
	if a.cached > 0 && a.now().Sub(a.cachedAt) < a.cacheTTL {
		n := a.cached
		a.mu.Unlock()
		return n
	}
	a.mu.Unlock()

	tier := a.detectTier(ctx)
	p := tierPresets[tier]
	size := float64(a.baseSize(p))

	if a.load != nil {
		if avg, err := a.load.RecentAvgProcessingMs(ctx); err == nil && avg > 0 {
			switch {
			case avg > slowProcessingMs:
				size *= 0.8
			case avg < fastProcessingMs:
				size *= 1.2
			}
		}
		if depth, err := a.load.Depth(ctx); err == nil {
			switch {
			case depth > highQueueDepth:
				size *= 0.9
			case depth < lowQueueDepth:
				size *= 1.1
			}
		}
	}

	n := clamp(int(size), minBatchSize, p.maxConns/10)
	log.Printf("capacity: tier=%s mode=%s recommended batch size %d", tier, a.mode, n)

	a.mu.Lock()
	a.cached = n
	a.cachedAt = a.now()
	a.mu.Unlock()
	return n
}

func (a *Advisor) baseSize(p preset) int {
	switch a.mode {
	case ModeConservative:
		return p.conservative
	case ModeAggressive:
		return p.aggressive
	default:
		return p.moderate
	}
}

// detectTier combines pool headroom with a round-trip latency benchmark.
// Any probe failure means TierMicro.
func (a *Advisor) detectTier(ctx context.Context) Tier {
	if a.db == nil {
		return TierMicro
	}
	stats := a.db.Stats()
	headroom := stats.MaxOpenConnections - stats.InUse
	if stats.MaxOpenConnections == 0 {
		// Unlimited pool: judge by latency alone.
		headroom = 1 << 20
	}

	lat, err := a.pingLatency(ctx)
	if err != nil {
		log.Printf("capacity: latency probe failed, assuming micro tier: %v", err)
		return TierMicro
	}

	switch {
	case headroom >= 100 && lat < 20*time.Millisecond:
		return TierLarge
	case headroom >= 50 && lat < 50*time.Millisecond:
		return TierStandard
	case headroom >= 20 && lat < 150*time.Millisecond:
		return TierSmall
	default:
		return TierMicro
	}
}

func (a *Advisor) pingLatency(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := a.now()
	var one int
	if err := a.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return 0, err
	}
	return a.now().Sub(start), nil
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
