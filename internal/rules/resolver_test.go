package rules

import (
	"context"
	"testing"
	"time"

	"github.com/examgrid/examgrid/internal/exam"
)

type stubStore struct {
	rules []MarkingRule
	calls int
	err   error
}

func (s *stubStore) ActiveByStream(_ context.Context, _ string) ([]MarkingRule, error) {
	s.calls++
	return s.rules, s.err
}

func jeeExamFixture() exam.Exam {
	return exam.Exam{ID: "exam-1", Stream: "jee", Standard: "12"}
}

func physicsMCQ() exam.Question {
	return exam.Question{ID: "q1", Subject: "Physics", Section: 1, AnswerKey: []string{"B"}, Marks: 4}
}

// Three overlapping active rules at different specificity levels: the most
// specific non-empty match must win regardless of priority on the broader
// ones.
func TestResolver_PrecedencePicksMostSpecific(t *testing.T) {
	store := &stubStore{rules: []MarkingRule{
		{
			ID: "broad", Stream: "jee", Type: exam.TypeMCQ,
			PositiveMarks: 1, NegativeMarks: 1, Priority: 100, Active: true,
		},
		{
			ID: "subject", Stream: "jee", Type: exam.TypeMCQ, Subject: "physics",
			PositiveMarks: 2, NegativeMarks: 1, Priority: 100, Active: true,
		},
		{
			ID: "narrow", Stream: "jee", Type: exam.TypeMCQ, Subject: "physics", Section: 1, Standard: "12",
			PositiveMarks: 3, NegativeMarks: 2, Priority: 0, Active: true,
		},
	}}
	r := NewResolver(store)

	got := r.Resolve(context.Background(), jeeExamFixture(), physicsMCQ())
	if got.Source != "rule:narrow" {
		t.Fatalf("resolved %s, want rule:narrow", got.Source)
	}
	if got.Positive != 3 || got.Negative != 2 {
		t.Fatalf("marks = +%g/-%g, want +3/-2", got.Positive, got.Negative)
	}
}

func TestResolver_TieBreakByPriorityThenRecency(t *testing.T) {
	store := &stubStore{rules: []MarkingRule{
		{ID: "low", Stream: "jee", Type: exam.TypeMCQ, PositiveMarks: 1, Priority: 1, Active: true, CreatedAt: 100},
		{ID: "high", Stream: "jee", Type: exam.TypeMCQ, PositiveMarks: 2, Priority: 9, Active: true, CreatedAt: 50},
		{ID: "newer-low", Stream: "jee", Type: exam.TypeMCQ, PositiveMarks: 3, Priority: 1, Active: true, CreatedAt: 200},
	}}
	r := NewResolver(store)

	got := r.Resolve(context.Background(), jeeExamFixture(), exam.Question{ID: "qx", Subject: "chem", Marks: 4})
	if got.Source != "rule:high" {
		t.Fatalf("resolved %s, want rule:high (highest priority)", got.Source)
	}

	// Drop the high-priority rule: recency decides between equal priorities.
	store.rules = store.rules[:1]
	store.rules = append(store.rules, MarkingRule{
		ID: "newest", Stream: "jee", Type: exam.TypeMCQ, PositiveMarks: 4, Priority: 1, Active: true, CreatedAt: 300,
	})
	r2 := NewResolver(store)
	got = r2.Resolve(context.Background(), jeeExamFixture(), exam.Question{ID: "qy", Subject: "chem", Marks: 4})
	if got.Source != "rule:newest" {
		t.Fatalf("resolved %s, want rule:newest", got.Source)
	}
}

func TestResolver_SubjectAliasNormalization(t *testing.T) {
	store := &stubStore{rules: []MarkingRule{
		{
			ID: "maths-rule", Stream: "jee", Type: exam.TypeMCQ, Subject: "Maths",
			PositiveMarks: 5, Priority: 1, Active: true,
		},
	}}
	r := NewResolver(store)

	q := exam.Question{ID: "q9", Subject: "  mathematics ", AnswerKey: []string{"A"}, Marks: 4}
	got := r.Resolve(context.Background(), jeeExamFixture(), q)
	if got.Source != "rule:maths-rule" {
		t.Fatalf("resolved %s, want rule:maths-rule via alias mapping", got.Source)
	}
}

func TestResolver_FallbackChain(t *testing.T) {
	r := NewResolver(&stubStore{}) // no persisted rules

	// Known stream: built-in defaults.
	got := r.Resolve(context.Background(), jeeExamFixture(), physicsMCQ())
	if got.Source != "stream-default" || got.Positive != 4 || got.Negative != 1 {
		t.Fatalf("jee default = %+v", got)
	}

	// Unknown stream with exam-level fallback marks.
	ex := exam.Exam{ID: "e2", Stream: "olympiad", NegativeMarks: 0.5}
	q := exam.Question{ID: "q1", Subject: "physics", Marks: 6}
	got = r.Resolve(context.Background(), ex, q)
	if got.Source != "exam-fallback" || got.Positive != 6 || got.Negative != 0.5 {
		t.Fatalf("exam fallback = %+v", got)
	}

	// Nothing at all: system default.
	got = r.Resolve(context.Background(), exam.Exam{ID: "e3", Stream: "olympiad"}, exam.Question{ID: "q2"})
	if got.Source != "system-default" || got.Positive != 4 || got.Negative != 1 {
		t.Fatalf("system default = %+v", got)
	}
}

func TestResolver_StreamRuleSetIsCached(t *testing.T) {
	store := &stubStore{}
	now := time.Unix(1000, 0)
	r := NewResolver(store, WithClock(func() time.Time { return now }))

	ex := jeeExamFixture()
	r.Resolve(context.Background(), ex, physicsMCQ())
	r.Resolve(context.Background(), ex, exam.Question{ID: "q2", Subject: "chem", Marks: 4})
	if store.calls != 1 {
		t.Fatalf("rule store fetched %d times, want 1 (cached)", store.calls)
	}

	// Past the TTL the set is refetched.
	now = now.Add(11 * time.Minute)
	r.Resolve(context.Background(), ex, exam.Question{ID: "q3", Subject: "chem", Marks: 4})
	if store.calls != 2 {
		t.Fatalf("rule store fetched %d times after TTL, want 2", store.calls)
	}
}

func TestResolver_ResolvedCacheEviction(t *testing.T) {
	store := &stubStore{}
	r := NewResolver(store, WithCacheCap(4))

	ex := jeeExamFixture()
	for i := 0; i < 10; i++ {
		r.Resolve(context.Background(), ex, exam.Question{ID: string(rune('a' + i)), Subject: "physics", Marks: 4})
	}
	r.mu.Lock()
	n := len(r.resolved)
	r.mu.Unlock()
	if n > 4 {
		t.Fatalf("resolved cache grew to %d entries, cap is 4", n)
	}
}

func TestResolver_InactiveRulesIgnored(t *testing.T) {
	store := &stubStore{rules: []MarkingRule{
		{ID: "off", Stream: "jee", Type: exam.TypeMCQ, PositiveMarks: 9, Priority: 9, Active: false},
	}}
	r := NewResolver(store)
	got := r.Resolve(context.Background(), jeeExamFixture(), physicsMCQ())
	if got.Source != "stream-default" {
		t.Fatalf("inactive rule must not match; resolved %s", got.Source)
	}
}
