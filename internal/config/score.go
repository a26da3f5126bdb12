package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/phrasegen/internal/markov"
	"github.com/satindergrewal/phrasegen/internal/segment"
)

// Score is the hand-authored data a composition is built from: where each
// word sits in the recording and how words follow one another.
type Score struct {
	Segments    []segment.CutPoint   `yaml:"segments"`
	Transitions map[string][]float64 `yaml:"transitions"`
}

// DefaultScore returns the built-in "I will give my love an apple" score.
func DefaultScore() *Score {
	s := &Score{
		Segments:    append([]segment.CutPoint(nil), segment.Phrase...),
		Transitions: make(map[string][]float64, len(segment.Phrase)),
	}
	for i, c := range segment.Phrase {
		s.Transitions[c.Label] = append([]float64(nil), markov.PhraseWeights[i]...)
	}
	return s
}

// LoadScore reads a YAML score file. An empty path yields DefaultScore.
func LoadScore(path string) (*Score, error) {
	if path == "" {
		return DefaultScore(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open score file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var s Score
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse score file %s: %w", path, err)
	}
	if len(s.Segments) == 0 {
		return nil, fmt.Errorf("%w: score %s has no segments", ErrInvalid, path)
	}
	if len(s.Transitions) == 0 {
		return nil, fmt.Errorf("%w: score %s has no transitions", ErrInvalid, path)
	}
	return &s, nil
}

// Labels returns the segment labels in cut-table order.
func (s *Score) Labels() []string {
	out := make([]string, len(s.Segments))
	for i, c := range s.Segments {
		out[i] = c.Label
	}
	return out
}

// Table builds the transition table over the score's labels.
func (s *Score) Table() (*markov.Table, error) {
	return markov.FromMap(s.Labels(), s.Transitions)
}
