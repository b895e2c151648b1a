package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankingOf(model string, labels ...Label) Ranking {
	return Ranking{Model: model, ParsedLabels: labels}
}

func TestAggregate_TieSharesTier(t *testing.T) {
	labelMap := LabelMap{"A1": "M1", "B1": "M2", "C1": "M3"}
	rankings := []Ranking{
		rankingOf("M1", "B1", "A1", "C1"),
		rankingOf("M2", "A1", "B1", "C1"),
	}

	entries := Aggregate(rankings, labelMap)

	require.Len(t, entries, 3)
	// M1 and M2 tie at 1.5 and share tier 0; M3 is always third and gets
	// tier 2, never tier 1.
	assert.Equal(t, "M1", entries[0].Model)
	assert.Equal(t, 1.5, entries[0].AverageRank)
	assert.Equal(t, 0, entries[0].Tier)
	assert.Equal(t, "gold", entries[0].Medal())

	assert.Equal(t, "M2", entries[1].Model)
	assert.Equal(t, 1.5, entries[1].AverageRank)
	assert.Equal(t, 0, entries[1].Tier)
	assert.Equal(t, "gold", entries[1].Medal())

	assert.Equal(t, "M3", entries[2].Model)
	assert.Equal(t, 3.0, entries[2].AverageRank)
	assert.Equal(t, 2, entries[2].Tier)
	assert.Equal(t, "bronze", entries[2].Medal())
}

func TestAggregate_UnknownLabelsDiscarded(t *testing.T) {
	labelMap := LabelMap{"A1": "M1"}
	rankings := []Ranking{
		rankingOf("M2", "Z9", "A1"),
	}

	entries := Aggregate(rankings, labelMap)

	require.Len(t, entries, 1)
	assert.Equal(t, "M1", entries[0].Model)
	// The hallucinated label still occupied position 1, so M1's vote is 2.
	assert.Equal(t, 2.0, entries[0].AverageRank)
	assert.Equal(t, 1, entries[0].VoteCount)
}

func TestAggregate_NoVotesNoEntry(t *testing.T) {
	labelMap := LabelMap{"A1": "M1", "B1": "M2"}
	rankings := []Ranking{
		rankingOf("M1", "A1"),
	}

	entries := Aggregate(rankings, labelMap)

	require.Len(t, entries, 1)
	assert.Equal(t, "M1", entries[0].Model)
}

func TestAggregate_RoundsOnceAtComputation(t *testing.T) {
	labelMap := LabelMap{"A1": "M1", "B1": "M2", "C1": "M3"}
	// M1: positions 1, 1, 2 -> 4/3 = 1.333... -> stored as 1.3
	rankings := []Ranking{
		rankingOf("M1", "A1", "B1", "C1"),
		rankingOf("M2", "A1", "C1", "B1"),
		rankingOf("M3", "B1", "A1", "C1"),
	}

	entries := Aggregate(rankings, labelMap)

	require.NotEmpty(t, entries)
	assert.Equal(t, "M1", entries[0].Model)
	assert.Equal(t, 1.3, entries[0].AverageRank)
}

func TestAggregate_MultiRoundVotesPool(t *testing.T) {
	// Both rounds of M1 map to the same identity, so their votes pool.
	labelMap := LabelMap{"A1": "M1", "A2": "M1", "B1": "M2"}
	rankings := []Ranking{
		rankingOf("M2", "A1", "B1", "A2"),
	}

	entries := Aggregate(rankings, labelMap)

	require.Len(t, entries, 2)
	assert.Equal(t, "M1", entries[0].Model)
	assert.Equal(t, 2.0, entries[0].AverageRank) // (1+3)/2
	assert.Equal(t, 2, entries[0].VoteCount)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, LabelMap{"A1": "M1"}))
	assert.Empty(t, Aggregate([]Ranking{rankingOf("M1")}, LabelMap{}))
}

func TestAggregate_MedalBeyondBronze(t *testing.T) {
	entry := AggregateEntry{Tier: 3}
	assert.Equal(t, "", entry.Medal())
}

func TestPreselectSynthesizer_TopTier(t *testing.T) {
	entries := []AggregateEntry{
		{Model: "M2", AverageRank: 1.5, VoteCount: 2, Tier: 0},
		{Model: "M1", AverageRank: 1.5, VoteCount: 2, Tier: 0},
		{Model: "M3", AverageRank: 3.0, VoteCount: 2, Tier: 2},
	}

	model, justification := PreselectSynthesizer(entries, nil)

	assert.Equal(t, "M2", model)
	assert.NotEmpty(t, justification)
}

func TestPreselectSynthesizer_FallbackToFirstResponder(t *testing.T) {
	responses := []Response{{Model: "M1"}, {Model: "M2"}}

	model, justification := PreselectSynthesizer(nil, responses)

	assert.Equal(t, "M1", model)
	assert.NotEmpty(t, justification)
}

func TestPreselectSynthesizer_NothingAvailable(t *testing.T) {
	model, justification := PreselectSynthesizer(nil, nil)

	assert.Empty(t, model)
	assert.Empty(t, justification)
}
