package exam

import "testing"

func TestQuestionType_FlagDerivation(t *testing.T) {
	cases := []struct {
		name      string
		userInput bool
		multiple  bool
		want      QuestionType
	}{
		{"plain mcq", false, false, TypeMCQ},
		{"numerical", true, false, TypeNumerical},
		{"multi answer", false, true, TypeMCMA},
		{"both flags set", true, true, TypeNumerical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := Question{UserInputAnswer: tc.userInput, IsMultipleAnswer: tc.multiple}
			if got := q.Type(); got != tc.want {
				t.Fatalf("Type() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExam_MaxAttempts(t *testing.T) {
	if got := (Exam{}).MaxAttempts(); got != 1 {
		t.Fatalf("zero reattempt: %d, want 1", got)
	}
	if got := (Exam{Reattempt: 3}).MaxAttempts(); got != 3 {
		t.Fatalf("reattempt 3: %d", got)
	}
}

func TestExam_Validate(t *testing.T) {
	ok := Exam{ID: "e1", Stream: "jee", Questions: []Question{{ID: "q1"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid exam rejected: %v", err)
	}
	if err := (Exam{Stream: "jee"}).Validate(); err == nil {
		t.Fatal("missing id accepted")
	}
	if err := (Exam{ID: "e1"}).Validate(); err == nil {
		t.Fatal("missing stream accepted")
	}
	bad := Exam{ID: "e1", Stream: "jee", Questions: []Question{{}}}
	if err := bad.Validate(); err == nil {
		t.Fatal("question without id accepted")
	}
}

func TestSectionName(t *testing.T) {
	for n, want := range map[int]string{0: "", 1: "Section A", 2: "Section B", 3: "Section C", 9: ""} {
		if got := SectionName(n); got != want {
			t.Errorf("SectionName(%d) = %q, want %q", n, got, want)
		}
	}
}
