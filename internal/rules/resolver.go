package rules

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/examgrid/examgrid/internal/exam"
)

const (
	defaultResolvedTTL = 10 * time.Minute
	defaultStreamTTL   = 10 * time.Minute
	defaultCacheCap    = 5000
)

// Resolver picks the applicable marking rule for a question using a strict
// specificity hierarchy over the stream's active rules, with built-in stream
// defaults and exam/system fallbacks underneath. Resolve never fails.
//
// Both caches are read-heavy and short-lived: racing recomputation is
// harmless, staleness is bounded by the TTLs.
type Resolver struct {
	store Store

	mu          sync.Mutex
	resolved    map[string]resolvedEntry
	streams     map[string]streamEntry
	resolvedTTL time.Duration
	streamTTL   time.Duration
	cacheCap    int
	now         func() time.Time
}

type resolvedEntry struct {
	rule    ResolvedRule
	expires time.Time
}

type streamEntry struct {
	rules   []MarkingRule
	expires time.Time
}

type Option func(*Resolver)

func WithResolvedTTL(d time.Duration) Option { return func(r *Resolver) { r.resolvedTTL = d } }
func WithStreamTTL(d time.Duration) Option   { return func(r *Resolver) { r.streamTTL = d } }
func WithCacheCap(n int) Option              { return func(r *Resolver) { r.cacheCap = n } }
func WithClock(now func() time.Time) Option  { return func(r *Resolver) { r.now = now } }

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		resolved:    map[string]resolvedEntry{},
		streams:     map[string]streamEntry{},
		resolvedTTL: defaultResolvedTTL,
		streamTTL:   defaultStreamTTL,
		cacheCap:    defaultCacheCap,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the marking rule for q within ex. Malformed input or a
// failing rule store degrade through the fallback chain; the caller always
// gets a usable rule.
func (r *Resolver) Resolve(ctx context.Context, ex exam.Exam, q exam.Question) ResolvedRule {
	key := fmt.Sprintf("%s|%s|%s|%d|%s", ex.ID, q.Type(), NormalizeSubject(q.Subject), q.Section, q.ID)

	r.mu.Lock()
	if e, ok := r.resolved[key]; ok && r.now().Before(e.expires) {
		r.mu.Unlock()
		return e.rule
	}
	r.mu.Unlock()

	rule := r.resolveUncached(ctx, ex, q)

	r.mu.Lock()
	if len(r.resolved) >= r.cacheCap {
		r.evictOldestHalfLocked()
	}
	r.resolved[key] = resolvedEntry{rule: rule, expires: r.now().Add(r.resolvedTTL)}
	r.mu.Unlock()
	return rule
}

// Rules returns the stream's active rule set, fetched once per TTL window.
// A store failure yields an empty set so resolution falls through to the
// built-in defaults.
func (r *Resolver) Rules(ctx context.Context, stream string) []MarkingRule {
	stream = normalizeStream(stream)

	r.mu.Lock()
	if e, ok := r.streams[stream]; ok && r.now().Before(e.expires) {
		r.mu.Unlock()
		return e.rules
	}
	r.mu.Unlock()

	fetched, err := r.store.ActiveByStream(ctx, stream)
	if err != nil {
		log.Printf("rules: fetch stream %q failed, using defaults: %v", stream, err)
		fetched = nil
	}

	r.mu.Lock()
	r.streams[stream] = streamEntry{rules: fetched, expires: r.now().Add(r.streamTTL)}
	r.mu.Unlock()
	return fetched
}

func (r *Resolver) resolveUncached(ctx context.Context, ex exam.Exam, q exam.Question) ResolvedRule {
	qt := q.Type()
	subject := NormalizeSubject(q.Subject)
	standard := normalizeStandard(ex.Standard)
	all := r.Rules(ctx, ex.Stream)

	// Specificity levels, highest first. Each level is a fixed pattern of
	// set/unset rule dimensions; the first level with any match wins.
	levels := []pattern{
		{typ: true, subject: true, section: true, standard: true},
		{typ: true, subject: true, section: true},
		{typ: true, subject: true, standard: true},
		{typ: true, subject: true},
		{typ: true, standard: true},
		{typ: true},
		{}, // exam-wide: no dimension constraints
	}
	for _, p := range levels {
		if best, ok := pickBest(matchLevel(all, p, qt, subject, q.Section, standard)); ok {
			return fromRule(best)
		}
	}

	if def, ok := streamDefault(ex.Stream, qt); ok {
		return def
	}
	if q.Marks > 0 || ex.NegativeMarks > 0 {
		positive := q.Marks
		if positive <= 0 {
			positive = systemDefault.Positive
		}
		return ResolvedRule{
			Positive:    positive,
			Negative:    ex.NegativeMarks,
			Source:      "exam-fallback",
			Description: fmt.Sprintf("Exam fallback +%g/-%g", positive, ex.NegativeMarks),
		}
	}
	return systemDefault
}

type pattern struct {
	typ, subject, section, standard bool
}

func matchLevel(all []MarkingRule, p pattern, qt exam.QuestionType, subject string, section int, standard string) []MarkingRule {
	var out []MarkingRule
	for _, rule := range all {
		if !rule.Active {
			continue
		}
		if (rule.Type != "") != p.typ || (rule.Subject != "") != p.subject ||
			(rule.Section != 0) != p.section || (rule.Standard != "") != p.standard {
			continue
		}
		if p.typ && rule.Type != qt {
			continue
		}
		if p.subject && NormalizeSubject(rule.Subject) != subject {
			continue
		}
		if p.section && rule.Section != section {
			continue
		}
		if p.standard && normalizeStandard(rule.Standard) != standard {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// pickBest breaks ties within one specificity level: higher priority, then
// more section/standard presence, then most recently created.
func pickBest(cands []MarkingRule) (MarkingRule, bool) {
	if len(cands) == 0 {
		return MarkingRule{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if pa, pb := presence(a), presence(b); pa != pb {
			return pa > pb
		}
		return a.CreatedAt > b.CreatedAt
	})
	return cands[0], true
}

func presence(r MarkingRule) int {
	n := 0
	if r.Section != 0 {
		n++
	}
	if r.Standard != "" {
		n++
	}
	return n
}

func fromRule(r MarkingRule) ResolvedRule {
	desc := r.Description
	if desc == "" {
		desc = fmt.Sprintf("Rule +%g/-%g", r.PositiveMarks, r.NegativeMarks)
	}
	return ResolvedRule{
		Positive:       r.PositiveMarks,
		Negative:       r.NegativeMarks,
		PartialEnabled: r.PartialEnabled,
		Partial:        r.Partial,
		Source:         "rule:" + r.ID,
		Description:    desc,
	}
}

// evictOldestHalfLocked drops the soonest-expiring half of the resolved
// cache. Caller holds r.mu.
func (r *Resolver) evictOldestHalfLocked() {
	type aged struct {
		key     string
		expires time.Time
	}
	entries := make([]aged, 0, len(r.resolved))
	for k, e := range r.resolved {
		entries = append(entries, aged{k, e.expires})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].expires.Before(entries[j].expires) })
	for _, e := range entries[:len(entries)/2] {
		delete(r.resolved, e.key)
	}
}
