package scoring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/examgrid/examgrid/internal/exam"
	"github.com/examgrid/examgrid/internal/rules"
)

var (
	// ErrInvalidSubmission marks validation failures; never enqueued, never retried.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrMaxAttempts marks the reattempt-allowance business rule; never retried.
	ErrMaxAttempts = errors.New("maximum attempts exceeded")
)

// AttemptCounter reports how many results already exist for (exam, student).
type AttemptCounter interface {
	AttemptCount(ctx context.Context, examID, studentID string) (int, error)
}

// Engine runs a full scoring pass over one submission. The same engine
// instance serves the interactive and batch paths, so both produce
// identical results for identical input.
type Engine struct {
	exams    exam.Store
	attempts AttemptCounter
	resolver *rules.Resolver
	now      func() time.Time
}

func NewEngine(exams exam.Store, attempts AttemptCounter, resolver *rules.Resolver) *Engine {
	return &Engine{exams: exams, attempts: attempts, resolver: resolver, now: time.Now}
}

// Score validates, loads, resolves and evaluates. Unexpected panics are
// recovered at this boundary and surfaced as errors with full context;
// a partial result is never returned.
func (e *Engine) Score(ctx context.Context, sub Submission) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scoring: panic exam=%s student=%s: %v", sub.ExamID, sub.StudentID, r)
			res = nil
			err = fmt.Errorf("scoring exam %s for student %s: panic: %v", sub.ExamID, sub.StudentID, r)
		}
	}()

	start := e.now()
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	ex, err := e.exams.GetExam(ctx, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load exam %s: %w", sub.ExamID, err)
	}

	prior, err := e.attempts.AttemptCount(ctx, ex.ID, sub.StudentID)
	if err != nil {
		return nil, fmt.Errorf("attempt count exam=%s student=%s: %w", ex.ID, sub.StudentID, err)
	}
	if prior >= ex.MaxAttempts() {
		return nil, fmt.Errorf("%w: exam %s allows %d attempt(s), student %s has %d",
			ErrMaxAttempts, ex.ID, ex.MaxAttempts(), sub.StudentID, prior)
	}

	// Warm the stream rule set once; per-question resolution hits the cache.
	ruleStart := e.now()
	e.resolver.Rules(ctx, ex.Stream)
	ruleLoad := e.now().Sub(ruleStart)

	r := &Result{
		ExamID:        ex.ID,
		StudentID:     sub.StudentID,
		AttemptNumber: prior + 1,
		TotalMarks:    ex.TotalMarks,
		TimeTaken:     sub.TimeTaken,
		CompletedAt:   sub.CompletedAt,
		Answers:       sub.Answers,
		Analysis:      make([]QuestionAnalysis, 0, len(ex.Questions)),
		Subjects:      map[string]*SubjectPerformance{},
	}

	qStart := e.now()
	for _, q := range ex.Questions {
		rule := e.resolver.Resolve(ctx, ex, q)
		ev := Evaluate(sub.Answers[q.ID], q, rule)
		e.accumulate(r, q, rule, ev, sub.Answers[q.ID])
	}
	questionTime := e.now().Sub(qStart)

	finishSubjects(r.Subjects)

	r.Metrics = Metrics{RuleLoad: ruleLoad, Total: e.now().Sub(start)}
	if n := len(ex.Questions); n > 0 {
		r.Metrics.QuestionAvg = questionTime / time.Duration(n)
	}
	return r, nil
}

func (e *Engine) accumulate(r *Result, q exam.Question, rule rules.ResolvedRule, ev Evaluation, ans any) {
	r.Score += ev.Delta
	switch ev.Status {
	case StatusCorrect:
		r.CorrectCount++
	case StatusIncorrect:
		r.IncorrectCount++
	case StatusPartial:
		r.PartialCount++
	case StatusUnattempted:
		r.UnattemptedCount++
	}
	if ev.Delta < 0 {
		r.Negative.TotalDeducted += -ev.Delta
		r.Negative.QuestionsPenalized++
	}

	subject := rules.NormalizeSubject(q.Subject)
	if subject == "" {
		subject = "general"
	}
	sp, ok := r.Subjects[subject]
	if !ok {
		sp = &SubjectPerformance{}
		r.Subjects[subject] = sp
	}
	sp.TotalQuestions++
	sp.MarksPossible += rule.Positive
	sp.MarksEarned += ev.Delta
	switch ev.Status {
	case StatusUnattempted:
		sp.Unanswered++
	case StatusIncorrect:
		sp.Attempted++
		sp.Incorrect++
	case StatusCorrect, StatusPartial:
		sp.Attempted++
		sp.Correct++
	}

	r.Analysis = append(r.Analysis, QuestionAnalysis{
		QuestionID:    q.ID,
		Subject:       subject,
		Section:       exam.SectionName(q.Section),
		Type:          string(q.Type()),
		Status:        ev.Status,
		Delta:         ev.Delta,
		UserAnswer:    ans,
		CorrectAnswer: q.AnswerKey,
		RuleSource:    rule.Source,
		RuleDesc:      rule.Description,
		Meta:          ev.Meta,
	})
}

func finishSubjects(subjects map[string]*SubjectPerformance) {
	for _, sp := range subjects {
		if sp.Attempted > 0 {
			sp.Accuracy = round2(float64(sp.Correct) / float64(sp.Attempted) * 100)
		}
		if sp.MarksPossible > 0 {
			sp.Percentage = round2(sp.MarksEarned / sp.MarksPossible * 100)
		}
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
