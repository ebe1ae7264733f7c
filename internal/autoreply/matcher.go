// Package autoreply arbitrates the race between an automated reply and
// a human answering the same incoming message. A matcher flags
// qualifying messages; the arbiter then waits a short window in which a
// manual reply can preempt the automated one.
package autoreply

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule describes one reply pattern: if any pattern appears in an
// incoming message, the rule matches with its configured confidence and
// the answer becomes the reply text (or the draft prompt seed when an
// LLM drafter is wired).
type Rule struct {
	Name       string   `yaml:"name"`
	Patterns   []string `yaml:"patterns"`
	Answer     string   `yaml:"answer"`
	Confidence float64  `yaml:"confidence"`
}

// Match is a successful rule hit on a message.
type Match struct {
	Rule       Rule
	Confidence float64
}

// Matcher scans incoming message text against a fixed rule set.
type Matcher struct {
	rules []Rule
}

func NewMatcher(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

// Match returns the highest-confidence rule whose patterns appear in
// text. Matching is case-insensitive substring containment.
func (m *Matcher) Match(text string) (Match, bool) {
	lower := strings.ToLower(text)

	var best Match
	found := false
	for _, rule := range m.rules {
		for _, pattern := range rule.Patterns {
			if !strings.Contains(lower, strings.ToLower(pattern)) {
				continue
			}
			if !found || rule.Confidence > best.Confidence {
				best = Match{Rule: rule, Confidence: rule.Confidence}
				found = true
			}
			break
		}
	}
	return best, found
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file. Every rule needs a name, at least
// one pattern, an answer, and a confidence in (0, 1].
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	for i, rule := range file.Rules {
		switch {
		case rule.Name == "":
			return nil, fmt.Errorf("rule %d: missing name", i)
		case len(rule.Patterns) == 0:
			return nil, fmt.Errorf("rule %q: no patterns", rule.Name)
		case rule.Answer == "":
			return nil, fmt.Errorf("rule %q: no answer", rule.Name)
		case rule.Confidence <= 0 || rule.Confidence > 1:
			return nil, fmt.Errorf("rule %q: confidence %v outside (0, 1]", rule.Name, rule.Confidence)
		}
	}
	return file.Rules, nil
}

// DefaultRules covers the questions a support inbox sees most. Used
// when no rule file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "greeting",
			Patterns:   []string{"hello", "hi there", "good morning", "good afternoon"},
			Answer:     "Hi! Thanks for reaching out. How can I help?",
			Confidence: 0.8,
		},
		{
			Name:       "pricing",
			Patterns:   []string{"how much", "price", "pricing", "cost"},
			Answer:     "Our current pricing is listed at the plans page; happy to walk you through the options.",
			Confidence: 0.85,
		},
		{
			Name:       "hours",
			Patterns:   []string{"opening hours", "when are you open", "business hours"},
			Answer:     "We are around Monday to Friday, 9:00 to 18:00 CET.",
			Confidence: 0.9,
		},
		{
			Name:       "thanks",
			Patterns:   []string{"thank you", "thanks a lot", "thx"},
			Answer:     "You're welcome! Let me know if there is anything else.",
			Confidence: 0.8,
		},
	}
}
