package capacity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/examgrid/examgrid/internal/db"
)

type fakeLoad struct {
	depth      int
	avgMs      float64
	depthCalls int
	avgCalls   int
}

func (f *fakeLoad) Depth(context.Context) (int, error) {
	f.depthCalls++
	return f.depth, nil
}

func (f *fakeLoad) RecentAvgProcessingMs(context.Context) (float64, error) {
	f.avgCalls++
	return f.avgMs, nil
}

func TestRecommendBatchSize_NilDBFallsBackToMicro(t *testing.T) {
	a := NewAdvisor(nil, nil, ModeModerate)
	if got := a.RecommendBatchSize(context.Background()); got != 40 {
		t.Fatalf("size = %d, want micro moderate 40", got)
	}
}

func TestRecommendBatchSize_ModePresets(t *testing.T) {
	cases := []struct {
		mode Mode
		want int
	}{
		{ModeConservative, 25},
		{ModeModerate, 40},
		{ModeAggressive, 50},
		{"", 40}, // unset defaults to moderate
	}
	for _, tc := range cases {
		a := NewAdvisor(nil, nil, tc.mode)
		if got := a.RecommendBatchSize(context.Background()); got != tc.want {
			t.Errorf("mode %q: size = %d, want %d", tc.mode, got, tc.want)
		}
	}
}

func TestRecommendBatchSize_LoadSignalsShrinkSize(t *testing.T) {
	// Slow processing and a deep queue both shrink the micro moderate base:
	// 40 * 0.8 * 0.9 = 28.
	load := &fakeLoad{depth: 500, avgMs: 8000}
	a := NewAdvisor(nil, load, ModeModerate)
	if got := a.RecommendBatchSize(context.Background()); got != 28 {
		t.Fatalf("size = %d, want 28", got)
	}
}

func TestRecommendBatchSize_ClampFloor(t *testing.T) {
	// 25 * 0.8 * 0.9 = 18, below the floor.
	load := &fakeLoad{depth: 500, avgMs: 8000}
	a := NewAdvisor(nil, load, ModeConservative)
	if got := a.RecommendBatchSize(context.Background()); got != minBatchSize {
		t.Fatalf("size = %d, want floor %d", got, minBatchSize)
	}
}

func TestRecommendBatchSize_ClampCeiling(t *testing.T) {
	// Fast processing and a shallow queue grow the micro moderate base past
	// the tier ceiling: 40 * 1.2 * 1.1 = 52.8, capped at maxConns/10 = 50.
	load := &fakeLoad{depth: 5, avgMs: 200}
	a := NewAdvisor(nil, load, ModeModerate)
	if got := a.RecommendBatchSize(context.Background()); got != 50 {
		t.Fatalf("size = %d, want ceiling 50", got)
	}
}

func TestRecommendBatchSize_CachesWithinTTL(t *testing.T) {
	load := &fakeLoad{depth: 100, avgMs: 2000}
	a := NewAdvisor(nil, load, ModeModerate)

	now := time.Unix(1000, 0)
	a.now = func() time.Time { return now }

	first := a.RecommendBatchSize(context.Background())
	second := a.RecommendBatchSize(context.Background())
	if first != second {
		t.Fatalf("cached recommendation changed: %d then %d", first, second)
	}
	if load.depthCalls != 1 || load.avgCalls != 1 {
		t.Fatalf("probes ran %d/%d times within TTL, want 1/1", load.depthCalls, load.avgCalls)
	}

	now = now.Add(defaultCacheTTL + time.Second)
	a.RecommendBatchSize(context.Background())
	if load.depthCalls != 2 {
		t.Fatalf("probe did not rerun after TTL expiry")
	}
}

func TestDetectTier_LocalSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "cap.db")
	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	// An in-process sqlite answers SELECT 1 in well under the large-tier
	// latency cutoff with an unlimited pool.
	a := NewAdvisor(conn, nil, ModeModerate)
	if tier := a.detectTier(context.Background()); tier != TierLarge {
		t.Fatalf("tier = %s, want large", tier)
	}
	if got := a.RecommendBatchSize(context.Background()); got != 250 {
		t.Fatalf("size = %d, want large moderate 250", got)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		n, lo, hi, want int
	}{
		{10, 20, 50, 20},
		{60, 20, 50, 50},
		{30, 20, 50, 30},
		{30, 20, 10, 20}, // inverted bounds collapse to the floor
	}
	for _, tc := range cases {
		if got := clamp(tc.n, tc.lo, tc.hi); got != tc.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tc.n, tc.lo, tc.hi, got, tc.want)
		}
	}
}
