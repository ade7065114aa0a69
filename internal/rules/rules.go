// Package rules detects policy-rule violations in a transcript with phrase
// and regular-expression rules.
package rules

import (
	"cmp"
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"call-audit-go/internal/types"
)

//go:embed default_rules.yaml
var defaultRules []byte

const Checker = "rules"

// Rule is one policy rule as written in a rules file. Exactly one of Phrases
// or Pattern is set.
type Rule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Severity    string   `yaml:"severity"`
	Phrases     []string `yaml:"phrases"`
	Pattern     string   `yaml:"pattern"`
}

type RuleSet struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Parse decodes a YAML rule set.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &rs, nil
}

func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return Parse(data)
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() *RuleSet {
	rs, err := Parse(defaultRules)
	if err != nil {
		panic(err)
	}
	return rs
}

type compiled struct {
	rule Rule
	re   *regexp.Regexp
}

// Engine checks transcripts against a compiled rule set. It is immutable
// and safe for concurrent use.
type Engine struct {
	version string
	rules   []compiled
}

func NewEngine(rs *RuleSet) (*Engine, error) {
	if rs == nil || len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rule set is empty")
	}
	e := &Engine{version: rs.Version}
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if r.Severity == "" {
			r.Severity = "medium"
		}

		var expr string
		switch {
		case len(r.Phrases) > 0 && r.Pattern != "":
			return nil, fmt.Errorf("rule %s: set phrases or pattern, not both", r.ID)
		case len(r.Phrases) > 0:
			expr = phraseExpr(r.Phrases)
		case r.Pattern != "":
			expr = r.Pattern
		default:
			return nil, fmt.Errorf("rule %s: no phrases or pattern", r.ID)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		e.rules = append(e.rules, compiled{rule: r, re: re})
	}
	return e, nil
}

// NewDefaultEngine compiles the built-in rules.
func NewDefaultEngine() (*Engine, error) {
	return NewEngine(DefaultRuleSet())
}

func (e *Engine) Version() string { return e.version }

// phraseExpr builds one case-insensitive alternation, longest phrase first,
// with word boundaries wherever a phrase starts or ends on a word character.
func phraseExpr(phrases []string) string {
	ps := slices.Clone(phrases)
	slices.SortFunc(ps, func(a, b string) int { return cmp.Compare(len(b), len(a)) })

	alts := make([]string, 0, len(ps))
	for _, p := range ps {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		words := strings.Fields(p)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alt := strings.Join(words, `\s+`)
		if first, _ := utf8.DecodeRuneInString(p); isWord(first) {
			alt = `\b` + alt
		}
		if last, _ := utf8.DecodeLastRuneInString(p); isWord(last) {
			alt += `\b`
		}
		alts = append(alts, alt)
	}
	return `(?i)(?:` + strings.Join(alts, "|") + `)`
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Check returns every rule match in the transcript ordered by utterance,
// offset and rule id. A transcript with no matches yields an empty report.
func (e *Engine) Check(ctx context.Context, t types.Transcript) (types.ViolationReport, error) {
	out := types.ViolationReport{Checker: Checker, Violations: []types.Violation{}}
	for ui, u := range t.Utterances {
		if err := ctx.Err(); err != nil {
			return types.ViolationReport{}, fmt.Errorf("%w: %w", types.ErrCancelled, err)
		}
		for _, c := range e.rules {
			for _, loc := range c.re.FindAllStringIndex(u.Text, -1) {
				v := types.Violation{
					RuleID:      c.rule.ID,
					Description: c.rule.Description,
					Severity:    c.rule.Severity,
					Matched:     u.Text[loc[0]:loc[1]],
					Location:    types.Location{Utterance: ui, Offset: loc[0]},
					Speaker:     u.Speaker,
				}
				if u.StartTime != nil {
					st := *u.StartTime
					v.StartTime = &st
				}
				out.Violations = append(out.Violations, v)
			}
		}
	}

	slices.SortStableFunc(out.Violations, func(a, b types.Violation) int {
		return cmp.Or(
			cmp.Compare(a.Location.Utterance, b.Location.Utterance),
			cmp.Compare(a.Location.Offset, b.Location.Offset),
			cmp.Compare(a.RuleID, b.RuleID),
		)
	})
	out.Summary = summarize(out.Violations)
	return out, nil
}

func summarize(vs []types.Violation) string {
	if len(vs) == 0 {
		return "no violations found"
	}
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		if !slices.Contains(ids, v.RuleID) {
			ids = append(ids, v.RuleID)
		}
	}
	slices.Sort(ids)
	return fmt.Sprintf("%d violations of %d rules: %s", len(vs), len(ids), strings.Join(ids, ", "))
}
