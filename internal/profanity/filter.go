// Package profanity screens chat messages before they are persisted and
// fanned out. The filter is a pure function behind a small interface so
// deployments can swap in their own implementation.
package profanity

import "strings"

// Result of screening a message.
type Result struct {
	ContainsProfanity bool   `json:"containsProfanity"`
	CleanedText       string `json:"cleanedText"`
}

// Filter validates message text.
type Filter interface {
	Validate(text string) Result
}

// WordListFilter masks words from a fixed list, case-insensitively. Matches
// are whole tokens; punctuation attached to a token is preserved.
type WordListFilter struct {
	words map[string]struct{}
}

var defaultWords = []string{
	"damn", "hell", "crap", "ass", "bastard", "bitch", "shit", "fuck",
}

// NewWordListFilter builds a filter from the given words, or the built-in
// list when none are given.
func NewWordListFilter(words ...string) *WordListFilter {
	if len(words) == 0 {
		words = defaultWords
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return &WordListFilter{words: set}
}

// Validate reports whether text contains listed words and returns the text
// with each masked by asterisks.
func (f *WordListFilter) Validate(text string) Result {
	fields := strings.Fields(text)
	found := false
	for i, tok := range fields {
		core := strings.ToLower(strings.Trim(tok, ".,!?;:\"'"))
		if _, ok := f.words[core]; !ok {
			continue
		}
		found = true
		masked := strings.Repeat("*", len(core))
		fields[i] = strings.Replace(tok, strings.Trim(tok, ".,!?;:\"'"), masked, 1)
	}
	if !found {
		return Result{ContainsProfanity: false, CleanedText: text}
	}
	return Result{ContainsProfanity: true, CleanedText: strings.Join(fields, " ")}
}
