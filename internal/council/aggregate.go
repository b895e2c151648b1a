package council

import (
	"fmt"
	"math"
	"sort"
)

// Aggregate combines all Stage-2 rankings into a leaderboard. Each parsed
// label is translated to a model identity via labelToModel (unknown labels
// are discarded; reviewers hallucinate labels) and its 1-based position in
// that ranking counts as one vote. Models with no votes get no entry.
//
// The average is rounded to one decimal once, here, and both the sort and the
// tier scan compare the rounded value. Comparing unrounded averages while
// storing rounded ones lets two entries display as tied yet land in different
// tiers; rounding first keeps every later read of the stored value consistent
// with the tier it was assigned.
//
// Entries tied on average rank keep their Stage-1 letter order, so the result
// is deterministic for a given label map.
func Aggregate(rankings []Ranking, labelToModel LabelMap) []AggregateEntry {
	votes := make(map[string][]int)
	for _, r := range rankings {
		for pos, label := range r.ParsedLabels {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			votes[model] = append(votes[model], pos+1)
		}
	}

	order := modelLetterOrder(labelToModel)

	entries := make([]AggregateEntry, 0, len(votes))
	for model, positions := range votes {
		sum := 0
		for _, p := range positions {
			sum += p
		}
		avg := math.Round(float64(sum)/float64(len(positions))*10) / 10
		entries = append(entries, AggregateEntry{
			Model:       model,
			AverageRank: avg,
			VoteCount:   len(positions),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AverageRank != entries[j].AverageRank {
			return entries[i].AverageRank < entries[j].AverageRank
		}
		return order[entries[i].Model] < order[entries[j].Model]
	})

	// Running tier scan: an entry inherits the previous tier unless its
	// average is strictly worse, in which case its tier is its list index.
	// Two models tied at 1.5 share tier 0; a model always ranked third gets
	// tier 2, never tier 1.
	for i := range entries {
		if i == 0 {
			entries[i].Tier = 0
			continue
		}
		if entries[i].AverageRank > entries[i-1].AverageRank {
			entries[i].Tier = i
		} else {
			entries[i].Tier = entries[i-1].Tier
		}
	}

	return entries
}

// modelLetterOrder recovers each model's first-appearance letter position
// from the label map, for deterministic tie ordering.
func modelLetterOrder(labelToModel LabelMap) map[string]int {
	order := make(map[string]int, len(labelToModel))
	for label, model := range labelToModel {
		idx := int(label.Letter() - 'A')
		if prev, ok := order[model]; !ok || idx < prev {
			order[model] = idx
		}
	}
	return order
}

// PreselectSynthesizer picks the Stage-3 synthesizer: the first tier-0 model
// by aggregate order, with a justification string for the record. With no
// aggregate at all, the first Stage-1 respondent is the fallback.
func PreselectSynthesizer(entries []AggregateEntry, responses []Response) (string, string) {
	for _, e := range entries {
		if e.Tier != 0 {
			break
		}
		just := fmt.Sprintf("Top ranked by council peers (average rank %.1f across %d votes)",
			e.AverageRank, e.VoteCount)
		return e.Model, just
	}

	if len(responses) > 0 {
		return responses[0].Model, "No aggregate rankings available; defaulting to first responder"
	}
	return "", ""
}
