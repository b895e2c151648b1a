package council

import (
	"regexp"
	"strings"
)

// rankingMarker is the marker reviewers are instructed to emit before their
// final ordered list.
const rankingMarker = "FINAL RANKING:"

var (
	labelTokenRe   = regexp.MustCompile(`Response ([A-Z])(\d*)`)
	numberedItemRe = regexp.MustCompile(`\d+\.\s*Response [A-Z]\d*`)
)

// extractStrategy is one way of reading an ordered label list out of a raw
// ranking submission. Strategies are tried in priority order; the first one
// that applies wins. Keeping them as separate values lets each be tested on
// its own.
type extractStrategy interface {
	TryExtract(text string) ([]Label, bool)
}

// markerNumberedList reads the numbered list after the final-ranking marker:
// the explicit, unambiguous format reviewers are asked for.
type markerNumberedList struct{}

func (markerNumberedList) TryExtract(text string) ([]Label, bool) {
	scope, ok := afterMarker(text)
	if !ok {
		return nil, false
	}
	items := numberedItemRe.FindAllString(scope, -1)
	if len(items) == 0 {
		return nil, false
	}
	labels := make([]Label, 0, len(items))
	for _, item := range items {
		labels = append(labels, tokenToLabel(item))
	}
	return labels, true
}

// markerLabelTokens falls back to any label-shaped tokens after the marker,
// in order of appearance, when the numbered list didn't materialize.
type markerLabelTokens struct{}

func (markerLabelTokens) TryExtract(text string) ([]Label, bool) {
	scope, ok := afterMarker(text)
	if !ok {
		return nil, false
	}
	return allLabelTokens(scope), true
}

// anyLabelTokens is the last resort: every label-shaped token anywhere in the
// submission, in order.
type anyLabelTokens struct{}

func (anyLabelTokens) TryExtract(text string) ([]Label, bool) {
	return allLabelTokens(text), true
}

var extractCascade = []extractStrategy{
	markerNumberedList{},
	markerLabelTokens{},
	anyLabelTokens{},
}

// ExtractRanking parses a reviewer's free-text submission into an ordered
// label list, best effort. Reviewer models do not reliably follow the
// requested format, so a cascade of strategies is applied in priority order.
// Extraction never fails: an empty result simply contributes no votes.
//
// Both "Response A" and "Response A1" are accepted; a bare letter normalizes
// to round 1 so single-round submissions resolve against the round-aware
// label map.
func ExtractRanking(text string) []Label {
	for _, s := range extractCascade {
		if labels, ok := s.TryExtract(text); ok {
			return labels
		}
	}
	return nil
}

func afterMarker(text string) (string, bool) {
	_, after, found := strings.Cut(text, rankingMarker)
	return after, found
}

func allLabelTokens(scope string) []Label {
	matches := labelTokenRe.FindAllString(scope, -1)
	labels := make([]Label, 0, len(matches))
	for _, m := range matches {
		labels = append(labels, tokenToLabel(m))
	}
	return labels
}

func tokenToLabel(match string) Label {
	groups := labelTokenRe.FindStringSubmatch(match)
	letter, round := groups[1], groups[2]
	if round == "" {
		round = "1"
	}
	return Label(letter + round)
}
