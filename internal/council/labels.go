package council

import "fmt"

// AssignLabels maps Stage-1 responses, in arrival order, to anonymous labels.
// The letter is assigned by the order in which distinct model identities first
// appear; the round number is a per-identity occurrence counter. Re-running
// over the full list after an append yields the same labels for all prior
// entries (new identities only extend the alphabet, new rounds only extend a
// letter's counter), so labels are stable for the lifetime of a deliberation.
//
// Labels are deliberately deterministic, never random or hashed: a reader of
// the saved record must be able to recover "model X's round 2 response" from
// the label alone.
func AssignLabels(responses []Response) ([]Label, LabelMap) {
	var modelOrder []string
	modelCounts := make(map[string]int)

	labels := make([]Label, 0, len(responses))
	labelToModel := make(LabelMap, len(responses))

	for _, r := range responses {
		if _, seen := modelCounts[r.Model]; !seen {
			modelOrder = append(modelOrder, r.Model)
		}
		modelCounts[r.Model]++

		letter := byte('A' + letterIndex(modelOrder, r.Model))
		label := Label(fmt.Sprintf("%c%d", letter, modelCounts[r.Model]))

		labels = append(labels, label)
		labelToModel[label] = r.Model
	}

	return labels, labelToModel
}

func letterIndex(order []string, model string) int {
	for i, m := range order {
		if m == model {
			return i
		}
	}
	return -1
}

// MultiRound reports whether any identity contributed more than one response.
func MultiRound(labels []Label) bool {
	seen := make(map[byte]bool)
	for _, l := range labels {
		if seen[l.Letter()] {
			return true
		}
		seen[l.Letter()] = true
	}
	return false
}
