// Package scores maintains the persistent leaderboard: points awarded to
// models by their peers' rankings, accumulated across deliberations.
package scores

import (
	"github.com/agenthands/council/internal/council"
)

// pointsByPosition awards points for 0-indexed rank positions. Seventh place
// and below earn nothing.
var pointsByPosition = map[int]int{
	0: 25,
	1: 12,
	2: 6,
	3: 3,
	4: 2,
	5: 1,
}

// Sink receives score deltas. *storage.Store satisfies it.
type Sink interface {
	AddPoints(model string, points int) error
}

// Update awards points for one deliberation's rankings. Every model in the
// label map is tracked even at zero points. A reviewer's vote for itself is
// excluded: the reviewer is removed from its own ranked list before positions
// are counted, so the models below it each move up one place.
//
// Model names are normalized with CleanModelName so that a base model and its
// extended-reasoning variant share one leaderboard row.
func Update(sink Sink, rankings []council.Ranking, labelToModel council.LabelMap) error {
	for _, model := range labelToModel {
		if err := sink.AddPoints(council.CleanModelName(model), 0); err != nil {
			return err
		}
	}

	for _, r := range rankings {
		reviewer := council.CleanModelName(r.Model)

		var ranked []string
		for _, label := range r.ParsedLabels {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			name := council.CleanModelName(model)
			if name == reviewer {
				continue
			}
			ranked = append(ranked, name)
		}

		for pos, name := range ranked {
			points := pointsByPosition[pos]
			if points == 0 {
				continue
			}
			if err := sink.AddPoints(name, points); err != nil {
				return err
			}
		}
	}
	return nil
}
