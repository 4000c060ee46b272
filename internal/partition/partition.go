// Package partition splits an answer string into an ordered sequence of
// bounded speech-synthesis units. Units respect sentence and clause
// boundaries where possible and are merged greedily so each synthesis
// round trip carries as much text as the bound allows.
package partition

import (
	"strings"
	"unicode/utf8"
)

// Mode selects how unit size is measured.
type Mode int

const (
	// ModeWords bounds units by word count.
	ModeWords Mode = iota
	// ModeChars bounds units by character count.
	ModeChars
)

// Options configures the partitioner.
type Options struct {
	Mode     Mode
	MaxWords int
	MaxChars int
}

// DefaultOptions returns the standard unit bound: 100 words.
func DefaultOptions() Options {
	return Options{Mode: ModeWords, MaxWords: 100, MaxChars: 100}
}

// Unit is one bounded, 0-indexed slice of an answer scheduled for
// independent synthesis. Joining all units of an answer with single
// spaces reconstructs the whitespace-collapsed answer exactly.
type Unit struct {
	Index int
	Text  string
}

// Split partitions an answer into synthesis units. An empty or
// whitespace-only answer yields no units; no produced unit is ever
// empty. The output is deterministic for a given input.
//
// A single word longer than the character bound is kept whole rather
// than cut mid-word, so such a unit can exceed the bound.
func Split(answer string, opts Options) []Unit {
	text := collapse(answer)
	if text == "" {
		return nil
	}

	var pieces []string
	if fits(text, opts) {
		pieces = []string{text}
	} else {
		for _, sentence := range splitAfter(text, isSentenceEnd) {
			if fits(sentence, opts) {
				pieces = append(pieces, sentence)
				continue
			}
			for _, clause := range splitAfter(sentence, isClauseEnd) {
				if fits(clause, opts) {
					pieces = append(pieces, clause)
					continue
				}
				pieces = append(pieces, hardSplit(clause, opts)...)
			}
		}
		pieces = merge(pieces, opts)
	}

	units := make([]Unit, len(pieces))
	for i, p := range pieces {
		units[i] = Unit{Index: i, Text: p}
	}
	return units
}

// collapse normalizes all whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClauseEnd(r rune) bool {
	return r == ',' || r == ';'
}

// fits reports whether s is within the configured unit bound.
func fits(s string, opts Options) bool {
	return size(s, opts) <= bound(opts)
}

func bound(opts Options) int {
	if opts.Mode == ModeChars {
		return opts.MaxChars
	}
	return opts.MaxWords
}

// size measures s in the configured unit: words or characters.
func size(s string, opts Options) int {
	if opts.Mode == ModeChars {
		return utf8.RuneCountInString(s)
	}
	return len(strings.Fields(s))
}

// splitAfter cuts s at every space that immediately follows a terminator
// rune, keeping the terminator with the left piece. The cut spaces are
// exactly the single-space join points, so rejoining with " " restores s.
func splitAfter(s string, isTerm func(rune) bool) []string {
	var parts []string
	start := 0
	prev := rune(0)
	for i, r := range s {
		if r == ' ' && isTerm(prev) {
			parts = append(parts, s[start:i])
			start = i + 1
		}
		prev = r
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// hardSplit breaks an over-long clause at word boundaries, packing as
// many words as fit the bound into each piece.
func hardSplit(s string, opts Options) []string {
	words := strings.Fields(s)
	var parts []string
	current := ""
	for _, w := range words {
		switch {
		case current == "":
			current = w
		case fits(current+" "+w, opts):
			current += " " + w
		default:
			parts = append(parts, current)
			current = w
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// merge greedily joins consecutive small pieces up to the bound,
// minimizing the number of synthesis round trips.
func merge(pieces []string, opts Options) []string {
	var out []string
	current := ""
	for _, p := range pieces {
		switch {
		case current == "":
			current = p
		case fits(current+" "+p, opts):
			current += " " + p
		default:
			out = append(out, current)
			current = p
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}
