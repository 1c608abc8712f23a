package memory

import (
	"context"
	"fmt"
	"os"

	"assessx-live/internal/domain"
	"gopkg.in/yaml.v3"
)

// StaticTestLoader is a loader backed by an in-memory map (tests, demos, seed files).
type StaticTestLoader struct {
	tests map[string]domain.TestDefinition
}

func NewStaticTestLoader(tests map[string]domain.TestDefinition) *StaticTestLoader {
	return &StaticTestLoader{tests: tests}
}

func (l *StaticTestLoader) LoadTest(_ context.Context, testCode string) (domain.TestDefinition, error) {
	if test, ok := l.tests[testCode]; ok {
		return test, nil
	}
	return domain.TestDefinition{}, domain.ErrUnknownTestCode
}

type seedFile struct {
	Tests []domain.TestDefinition `yaml:"tests"`
}

// LoadSeedFile reads test definitions from a YAML file keyed by test code.
func LoadSeedFile(path string) (map[string]domain.TestDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	tests := make(map[string]domain.TestDefinition, len(seed.Tests))
	for _, test := range seed.Tests {
		if test.Code == "" {
			return nil, fmt.Errorf("seed test %q has no testCode", test.ID)
		}
		if _, dup := tests[test.Code]; dup {
			return nil, fmt.Errorf("duplicate test code %q in seed file", test.Code)
		}
		tests[test.Code] = test
	}
	return tests, nil
}
