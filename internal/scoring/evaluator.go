package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/examgrid/examgrid/internal/exam"
	"github.com/examgrid/examgrid/internal/rules"
)

// Evaluate compares a raw user answer against the question's answer key
// under the resolved marking rule. It never panics out: any internal
// failure degrades to a plain string comparison and is recorded in Meta,
// so one malformed answer cannot abort the rest of a submission.
func Evaluate(ans any, q exam.Question, rule rules.ResolvedRule) (ev Evaluation) {
	defer func() {
		if r := recover(); r != nil {
			ev = fallbackEvaluate(ans, q, rule, fmt.Sprintf("evaluator panic: %v", r))
		}
	}()

	if isEmpty(ans) {
		return Evaluation{Status: StatusUnattempted, Delta: 0}
	}

	switch q.Type() {
	case exam.TypeMCQ:
		return evaluateSingle(ans, q, rule, false)
	case exam.TypeNumerical:
		return evaluateSingle(ans, q, rule, true)
	case exam.TypeMCMA:
		return evaluateMulti(ans, q, rule)
	default:
		return fallbackEvaluate(ans, q, rule, "unknown question type")
	}
}

// evaluateSingle handles MCQ and numerical-input questions. Both sides are
// compared as trimmed lowercase strings; when both parse as numbers the
// tolerance comparator is used instead. Tolerance rule: values match when
// |a-b| <= 1e-9 * max(1, |key|), overridable per question via "tol=" /
// "reltol=" directives in the answer key.
func evaluateSingle(ans any, q exam.Question, rule rules.ResolvedRule, numerical bool) Evaluation {
	user, ok := answerString(ans)
	if !ok {
		return fallbackEvaluate(ans, q, rule, "answer is not a string")
	}
	meta := map[string]string{"evaluation": "string"}

	matched := false
	for _, key := range answerValues(q.AnswerKey) {
		if normalize(user) == normalize(key) {
			matched = true
			break
		}
		uv, uOK := parseFloatLoose(user)
		kv, kOK := parseFloatLoose(key)
		if uOK && kOK {
			meta["evaluation"] = "numeric-tolerance"
			if numericEqual(uv, kv, q.AnswerKey) {
				matched = true
				break
			}
		}
	}

	if matched {
		return Evaluation{Status: StatusCorrect, Delta: rule.Positive, Meta: meta}
	}
	if numerical && rule.Negative == 0 {
		meta["note"] = "no penalty for numerical"
	}
	return Evaluation{Status: StatusIncorrect, Delta: -rule.Negative, Meta: meta}
}

// evaluateMulti applies MCMA set semantics: any wrong pick costs the full
// penalty, an exact match earns full marks, and a proper subset of the
// correct set earns partial credit.
func evaluateMulti(ans any, q exam.Question, rule rules.ResolvedRule) Evaluation {
	selected, ok := answerSlice(ans)
	if !ok {
		return fallbackEvaluate(ans, q, rule, "answer is not a string list")
	}
	correct := toSet(answerValues(q.AnswerKey))
	picked := toSet(selected)
	if len(picked) == 0 {
		return Evaluation{Status: StatusUnattempted, Delta: 0}
	}

	meta := map[string]string{"evaluation": "multi-correct"}

	for p := range picked {
		if _, ok := correct[p]; !ok {
			meta["wrong_pick"] = p
			return Evaluation{Status: StatusIncorrect, Delta: -rule.Negative, Meta: meta}
		}
	}
	if len(picked) == len(correct) {
		return Evaluation{Status: StatusCorrect, Delta: rule.Positive, Meta: meta}
	}

	delta := partialDelta(len(picked), len(correct), rule)
	meta["partial"] = fmt.Sprintf("%d/%d", len(picked), len(correct))
	return Evaluation{Status: StatusPartial, Delta: delta, Meta: meta}
}

// partialDelta awards credit for a proper subset of the correct set. With
// partial marking enabled the three-tier table applies; otherwise credit is
// the floored proportional share of the positive marks.
func partialDelta(selected, total int, rule rules.ResolvedRule) float64 {
	if rule.PartialEnabled {
		switch {
		case selected >= 3 && total >= 4:
			return rule.Partial.ThreeOutOfFour
		case selected >= 2 && total >= 3:
			return rule.Partial.TwoOutOfThree
		case selected >= 1 && total >= 2:
			return rule.Partial.OneOutOfTwo
		}
	}
	return math.Floor(float64(selected) / float64(total) * rule.Positive)
}

// fallbackEvaluate is the documented degradation path: raw string equality
// against the first key entry, with the trigger recorded in Meta.
func fallbackEvaluate(ans any, q exam.Question, rule rules.ResolvedRule, why string) Evaluation {
	meta := map[string]string{"evaluation": "fallback", "error": why}
	user := fmt.Sprintf("%v", ans)
	for _, key := range answerValues(q.AnswerKey) {
		if normalize(user) == normalize(key) {
			return Evaluation{Status: StatusCorrect, Delta: rule.Positive, Meta: meta}
		}
	}
	return Evaluation{Status: StatusIncorrect, Delta: -rule.Negative, Meta: meta}
}

// --- answer normalization helpers ---

func isEmpty(ans any) bool {
	switch v := ans.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func answerString(ans any) (string, bool) {
	switch v := ans.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case []string:
		if len(v) == 1 {
			return v[0], true
		}
	case []any:
		if len(v) == 1 {
			if s, ok := v[0].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func answerSlice(ans any) ([]string, bool) {
	switch v := ans.(type) {
	case []string:
		return v, true
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// answerValues strips tolerance directives ("tol=", "reltol=") from the key.
func answerValues(key []string) []string {
	out := make([]string, 0, len(key))
	for _, k := range key {
		lk := strings.ToLower(strings.TrimSpace(k))
		if strings.HasPrefix(lk, "tol=") || strings.HasPrefix(lk, "reltol=") {
			continue
		}
		out = append(out, k)
	}
	return out
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		if n := normalize(s); n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if sp := strings.Fields(s); len(sp) > 0 {
		if v, err := strconv.ParseFloat(sp[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func numericEqual(user, key float64, rawKey []string) bool {
	absTol, relTol := parseTolerances(rawKey)
	diff := math.Abs(user - key)
	if absTol >= 0 {
		return diff <= absTol
	}
	if relTol >= 0 {
		return diff <= relTol*math.Abs(key)
	}
	return diff <= 1e-9*math.Max(1, math.Abs(key))
}

func parseTolerances(keys []string) (absTol, relTol float64) {
	absTol, relTol = -1, -1
	for _, k := range keys {
		k = strings.TrimSpace(strings.ToLower(k))
		if strings.HasPrefix(k, "tol=") {
			if v, err := strconv.ParseFloat(strings.TrimPrefix(k, "tol="), 64); err == nil {
				absTol = v
			}
		}
		if strings.HasPrefix(k, "reltol=") {
			if v, err := strconv.ParseFloat(strings.TrimPrefix(k, "reltol="), 64); err == nil {
				relTol = v
			}
		}
	}
	return
}
