package memory

import (
	"os"
	"path/filepath"
	"testing"

	"assessx-live/internal/domain"
)

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tests.yaml")
	seed := `
tests:
  - id: t-1
    testCode: "482913"
    title: Arithmetic
    duration: 30
    settings:
      negativeMarking: true
    questions:
      - type: single
        text: What is 2 + 2?
        marks: 2
        options:
          - {id: A, text: "3"}
          - {id: B, text: "4", correct: true}
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	tests, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	test, ok := tests["482913"]
	if !ok {
		t.Fatalf("expected test 482913 in seed")
	}
	if !test.Settings.NegativeMarking || test.Duration != 30 {
		t.Fatalf("unexpected test settings: %+v", test)
	}
	if len(test.Questions) != 1 || test.Questions[0].Type != domain.QuestionSingle || !test.Questions[0].Options[1].Correct {
		t.Fatalf("unexpected questions: %+v", test.Questions)
	}
}

func TestLoadSeedFileRejectsDuplicateCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tests.yaml")
	seed := "tests:\n  - {id: a, testCode: \"1\"}\n  - {id: b, testCode: \"1\"}\n"
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatalf("expected duplicate code error")
	}
}
