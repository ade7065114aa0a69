// Package tone scores the conversational tone of a transcript with a
// sentiment lexicon.
package tone

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"call-audit-go/internal/types"
)

// negationWindow is how many tokens after a negator have their polarity flipped.
const negationWindow = 3

var defaultPositive = []string{
	"thank", "thanks", "appreciate", "appreciated", "great", "good", "glad",
	"happy", "pleasure", "welcome", "excellent", "perfect", "wonderful",
	"helpful", "resolved", "sure", "absolutely", "certainly", "love",
	"nice", "fantastic", "awesome", "satisfied", "pleased", "kind",
}

var defaultNegative = []string{
	"angry", "upset", "terrible", "awful", "horrible", "bad", "worst",
	"frustrated", "frustrating", "annoyed", "annoying", "disappointed",
	"problem", "issue", "complaint", "unacceptable", "wrong", "broken",
	"cancel", "refund", "stupid", "ridiculous", "hate", "useless",
	"rude", "waste", "fail", "failed",
}

var defaultNegators = []string{
	"not", "no", "never", "don't", "dont", "doesn't", "didn't", "isn't",
	"wasn't", "aren't", "can't", "cannot", "won't", "wouldn't", "nothing",
}

type Lexicon struct {
	Positive []string
	Negative []string
	Negators []string
}

func DefaultLexicon() Lexicon {
	return Lexicon{Positive: defaultPositive, Negative: defaultNegative, Negators: defaultNegators}
}

// Analyzer is immutable after construction and safe for concurrent use.
type Analyzer struct {
	polarity map[string]int
	negators map[string]bool
}

func NewAnalyzer(lex Lexicon) *Analyzer {
	a := &Analyzer{polarity: make(map[string]int), negators: make(map[string]bool)}
	for _, w := range lex.Positive {
		a.polarity[strings.ToLower(w)] = 1
	}
	for _, w := range lex.Negative {
		a.polarity[strings.ToLower(w)] = -1
	}
	for _, w := range lex.Negators {
		a.negators[strings.ToLower(w)] = true
	}
	return a
}

func NewDefaultAnalyzer() *Analyzer { return NewAnalyzer(DefaultLexicon()) }

// Analyze returns the dominant tone label and the per-label scores.
//
// positive and negative are the shares of sentiment-bearing tokens, neutral
// is the share of tokens that carry no sentiment. The label is the highest
// score; any tie resolves to neutral.
func (a *Analyzer) Analyze(ctx context.Context, t types.Transcript) (string, types.ToneScores, error) {
	var pos, neg, tokens int
	for _, u := range t.Utterances {
		if err := ctx.Err(); err != nil {
			return "", nil, fmt.Errorf("%w: %w", types.ErrCancelled, err)
		}
		negate := 0
		for _, tok := range tokenize(u.Text) {
			tokens++
			if p, ok := a.polarity[tok]; ok {
				if negate > 0 {
					p = -p
				}
				if p > 0 {
					pos++
				} else {
					neg++
				}
			}
			switch {
			case a.negators[tok]:
				negate = negationWindow
			case negate > 0:
				negate--
			}
		}
	}

	scores := types.ToneScores{types.TonePositive: 0, types.ToneNegative: 0, types.ToneNeutral: 1}
	if matched := pos + neg; matched > 0 {
		scores[types.TonePositive] = float64(pos) / float64(matched)
		scores[types.ToneNegative] = float64(neg) / float64(matched)
		scores[types.ToneNeutral] = 1 - float64(matched)/float64(tokens)
	}
	return label(scores), scores, nil
}

func label(s types.ToneScores) string {
	p, n, z := s[types.TonePositive], s[types.ToneNegative], s[types.ToneNeutral]
	switch {
	case p > n && p > z:
		return types.TonePositive
	case n > p && n > z:
		return types.ToneNegative
	}
	return types.ToneNeutral
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
