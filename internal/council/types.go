package council

// Label is an anonymous token identifying one Stage-1 response for peer
// review, e.g. "A1" or "B2". The letter indexes the order in which distinct
// model identities first appeared; the digit is that identity's 1-based
// round counter.
type Label string

// Token renders the label the way it appears in prompts and rankings.
func (l Label) Token() string {
	return "Response " + string(l)
}

// Letter returns the model-identity letter of the label.
func (l Label) Letter() byte {
	return l[0]
}

// LabelMap maps anonymous labels to model identities. It is returned
// out-of-band with the Stage-2 prompt and must never be embedded in prompt
// text visible to reviewers.
type LabelMap map[Label]string

// Response is one council member's answer from Stage 1.
type Response struct {
	Model string `json:"model"`
	Text  string `json:"response"`
}

// Ranking is one reviewer's Stage-2 submission. ParsedLabels is always
// re-derivable from RawText via ExtractRanking; it is stored for display,
// never trusted as independent state.
type Ranking struct {
	Model        string  `json:"model"`
	RawText      string  `json:"ranking"`
	ParsedLabels []Label `json:"parsed_ranking"`
}

// AggregateEntry is one model's aggregate standing across all Stage-2
// rankings. AverageRank is rounded to one decimal at computation time.
type AggregateEntry struct {
	Model       string  `json:"model"`
	AverageRank float64 `json:"average_rank"`
	VoteCount   int     `json:"rankings_count"`
	Tier        int     `json:"tier"`
}

// Medal returns the presentation medal for the entry's tier, or "" beyond
// bronze.
func (e AggregateEntry) Medal() string {
	switch e.Tier {
	case 0:
		return "gold"
	case 1:
		return "silver"
	case 2:
		return "bronze"
	default:
		return ""
	}
}

// Synthesis is the chairman's final Stage-3 answer.
type Synthesis struct {
	Model string `json:"model"`
	Text  string `json:"response"`
}

// FinalRecord is the completed deliberation, handed to the record sink
// exactly once on Stage3 -> Completed.
type FinalRecord struct {
	Question  string           `json:"question"`
	Responses []Response       `json:"stage1"`
	Rankings  []Ranking        `json:"stage2"`
	Synthesis Synthesis        `json:"stage3"`
	LabelMap  LabelMap         `json:"label_to_model"`
	Aggregate []AggregateEntry `json:"aggregate_rankings"`
}
