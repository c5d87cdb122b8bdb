// Package sentiment scores how positively a text corpus talks about a set of
// symbols.
package sentiment

import (
	"strings"
	"sync"
	"unicode"

	"github.com/jonreiter/govader"

	"stratbot/internal/indicators"
)

// Scorer returns a polarity in [-1, 1] for a piece of text.
type Scorer interface {
	Score(text string) float64
}

// Vader scores text with the VADER lexicon and reports the compound polarity.
type Vader struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVader() *Vader {
	return &Vader{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *Vader) Score(text string) float64 {
	return v.analyzer.PolarityScores(text).Compound
}

type Score struct {
	Average float64
	Samples []float64
}

func (s Score) Mentions() int { return len(s.Samples) }

// Analyzer accumulates per-symbol scores for every text that mentions a symbol
// or one of its synonyms.
type Analyzer struct {
	symbols map[string][]string
	scorer  Scorer

	mu     sync.Mutex
	scores map[string]*Score
}

// NewAnalyzer takes symbol -> synonyms. The symbol itself always counts as a
// mention.
func NewAnalyzer(symbols map[string][]string, scorer Scorer) *Analyzer {
	norm := make(map[string][]string, len(symbols))
	for sym, synonyms := range symbols {
		words := []string{strings.ToLower(sym)}
		for _, s := range synonyms {
			words = append(words, strings.ToLower(s))
		}
		norm[strings.ToUpper(sym)] = words
	}
	return &Analyzer{symbols: norm, scorer: scorer, scores: make(map[string]*Score)}
}

// Parse scores text against every symbol it mentions and reports whether any
// symbol was mentioned.
func (a *Analyzer) Parse(text string) bool {
	mentioned := a.Mentions(text)
	if len(mentioned) == 0 {
		return false
	}
	score := a.scorer.Score(text)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sym := range mentioned {
		s, ok := a.scores[sym]
		if !ok {
			s = &Score{}
			a.scores[sym] = s
		}
		s.Samples = append(s.Samples, score)
		s.Average = indicators.Mean(s.Samples)
	}
	return true
}

// Mentions returns the symbols text refers to.
func (a *Analyzer) Mentions(text string) []string {
	words := make(map[string]struct{})
	for _, w := range tokenize(text) {
		words[w] = struct{}{}
	}
	var out []string
	for sym, synonyms := range a.symbols {
		for _, s := range synonyms {
			if _, ok := words[s]; ok {
				out = append(out, sym)
				break
			}
		}
	}
	return out
}

func (a *Analyzer) Scores() map[string]Score {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Score, len(a.scores))
	for sym, s := range a.scores {
		out[sym] = Score{Average: s.Average, Samples: append([]float64(nil), s.Samples...)}
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
