// Package moderation screens user-supplied names (session names, display
// names) against a forbidden-word dictionary before they enter a roster.
package moderation

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"lobby-lab/errors"
)

//go:embed forbidden/*
var forbiddenFolder embed.FS

type Screener struct {
	matcher *goahocorasick.Machine
}

// NewScreener initializes the Aho-Corasick automaton with a normalized
// version of the provided forbidden words list.
func NewScreener(forbiddenWords []string) (Screener, error) {
	patterns := make([][]rune, len(forbiddenWords))
	for i, word := range forbiddenWords {
		patterns[i] = normalizeRunes([]rune(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return Screener{}, err
	}
	return Screener{matcher: m}, nil
}

// NewDefaultScreener builds a screener from the embedded dictionaries.
func NewDefaultScreener() (Screener, error) {
	words, err := loadForbidden("forbidden")
	if err != nil {
		return Screener{}, err
	}
	return NewScreener(words)
}

// Screen reports ErrForbiddenName when the candidate name contains a
// forbidden pattern. Matching ignores case, punctuation, spacing and
// common leet-speak substitutions, so "B.4.d name" is caught as "bad".
func (s *Screener) Screen(name string) error {
	normalized := normalizeRunes([]rune(name))
	if len(normalized) == 0 {
		return nil
	}
	if spans := s.matcher.MultiPatternSearch(normalized, true); len(spans) > 0 {
		return errors.ErrForbiddenName
	}
	return nil
}

// loadForbidden parses every embedded .txt dictionary into a unique word list.
func loadForbidden(path string) ([]string, error) {
	entries, err := fs.ReadDir(forbiddenFolder, path)
	if err != nil {
		return nil, err
	}

	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := forbiddenFolder.ReadFile(path + "/" + entry.Name())
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			unique[strings.ToLower(word)] = struct{}{}
		}
	}

	if len(unique) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	return words, nil
}

// normalizeRunes lowers case, strips noise and maps leet speak back to
// the standard alphabet so obfuscated words still match.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet-speak characters back to their standard alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters that should be ignored during the pattern matching phase.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
