package autoreply

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMatcherFindsPattern(t *testing.T) {
	m := NewMatcher(DefaultRules())

	tests := []struct {
		name     string
		text     string
		wantRule string
		wantOK   bool
	}{
		{"greeting", "Hello, anyone around?", "greeting", true},
		{"case insensitive", "HELLO THERE", "greeting", true},
		{"pricing", "what does the pro plan cost?", "pricing", true},
		{"hours", "When are you open on weekends?", "hours", true},
		{"no match", "lorem ipsum dolor", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := m.Match(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Match() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && match.Rule.Name != tt.wantRule {
				t.Errorf("Match() rule = %q, want %q", match.Rule.Name, tt.wantRule)
			}
		})
	}
}

func TestMatcherPrefersHighestConfidence(t *testing.T) {
	m := NewMatcher([]Rule{
		{Name: "weak", Patterns: []string{"refund"}, Answer: "a", Confidence: 0.5},
		{Name: "strong", Patterns: []string{"refund"}, Answer: "b", Confidence: 0.9},
	})

	match, ok := m.Match("I want a refund")
	if !ok || match.Rule.Name != "strong" {
		t.Errorf("Match() = %+v %v, want the strong rule", match, ok)
	}
	if match.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", match.Confidence)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - name: shipping
    patterns:
      - "where is my order"
      - "tracking"
    answer: "Orders ship within 24 hours; tracking arrives by mail."
    confidence: 0.88
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("loaded %d rules, want 1", len(rules))
	}
	r := rules[0]
	if r.Name != "shipping" || len(r.Patterns) != 2 || r.Confidence != 0.88 {
		t.Errorf("rule = %+v", r)
	}
}

func TestLoadRulesValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "{{{"},
		{"missing name", "rules:\n  - patterns: [\"x\"]\n    answer: a\n    confidence: 0.8\n"},
		{"no patterns", "rules:\n  - name: r\n    answer: a\n    confidence: 0.8\n"},
		{"no answer", "rules:\n  - name: r\n    patterns: [\"x\"]\n    confidence: 0.8\n"},
		{"confidence too high", "rules:\n  - name: r\n    patterns: [\"x\"]\n    answer: a\n    confidence: 1.5\n"},
		{"confidence zero", "rules:\n  - name: r\n    patterns: [\"x\"]\n    answer: a\n    confidence: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			if _, err := LoadRules(path); err == nil {
				t.Error("LoadRules accepted an invalid file")
			}
		})
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadRules should fail for a missing file")
	}
}

func TestDefaultRulesAreValid(t *testing.T) {
	rules := DefaultRules()
	if len(rules) == 0 {
		t.Fatal("no default rules")
	}
	for _, r := range rules {
		if r.Name == "" || len(r.Patterns) == 0 || r.Answer == "" {
			t.Errorf("incomplete default rule: %+v", r)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Errorf("rule %q confidence %v outside (0, 1]", r.Name, r.Confidence)
		}
	}
}
