package council

import (
	"fmt"
	"sort"
	"strings"
)

// HistoryTurn is one prior turn from the conversation's history source.
// Role is "user" or "assistant"; Content is the user question or the final
// synthesized answer of that turn.
type HistoryTurn struct {
	Role    string
	Content string
}

// QA is one well-formed prior (question, answer) pair.
type QA struct {
	Question string
	Answer   string
}

// FilterHistory reduces raw history to well-formed (user, assistant) pairs.
// A trailing user turn with no assistant answer is not context; it is
// returned separately so the caller can treat it as the current question when
// no explicit new question was supplied.
func FilterHistory(turns []HistoryTurn) ([]QA, string) {
	var pairs []QA
	pending := ""

	for _, t := range turns {
		switch t.Role {
		case "user":
			pending = t.Content
		case "assistant":
			if pending == "" {
				continue // answer with no question, malformed
			}
			pairs = append(pairs, QA{Question: pending, Answer: t.Content})
			pending = ""
		}
	}

	return pairs, pending
}

// formatContext renders prior turns, numbered from 1, or nothing when there
// is no history.
func formatContext(pairs []QA) string {
	if len(pairs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("PREVIOUS CONTEXT:\n\n")
	for i, qa := range pairs {
		answer := qa.Answer
		if answer == "" {
			answer = "(No response)"
		}
		fmt.Fprintf(&b, "User Question %d: %s\n", i+1, qa.Question)
		fmt.Fprintf(&b, "LLM Answer %d: %s\n\n", i+1, answer)
	}
	b.WriteString("CURRENT TASK:\n")
	return b.String()
}

// questionBlock renders the current question. On the first turn the prompt is
// just the bare question, with no context header or prefix.
func questionBlock(question string, pairs []QA) string {
	if len(pairs) == 0 {
		return question
	}
	return formatContext(pairs) + "Current Question: " + question
}

func anonymizedResponses(responses []Response, labels []Label) string {
	parts := make([]string, 0, len(responses))
	for i, r := range responses {
		parts = append(parts, fmt.Sprintf("%s:\n%s", labels[i].Token(), r.Text))
	}
	return strings.Join(parts, "\n\n")
}

// multiRoundNote explains which labels share a model when any identity
// contributed more than one round, so reviewers judge each response on its
// own merits.
func multiRoundNote(labels []Label) string {
	groups := make(map[byte][]Label)
	var letters []byte
	for _, l := range labels {
		if _, ok := groups[l.Letter()]; !ok {
			letters = append(letters, l.Letter())
		}
		groups[l.Letter()] = append(groups[l.Letter()], l)
	}

	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })

	var explanations []string
	for _, letter := range letters {
		group := groups[letter]
		if len(group) < 2 {
			continue
		}
		tokens := make([]string, len(group))
		for i, l := range group {
			tokens[i] = string(l)
		}
		explanations = append(explanations,
			fmt.Sprintf("Responses %s are from the same model (generated in separate, independent sessions)",
				strings.Join(tokens, ", ")))
	}

	if len(explanations) == 0 {
		return ""
	}
	return "\n\nNOTE ON RESPONSES:\n" + strings.Join(explanations, "\n") +
		"\n\nEach response should be evaluated on its own merits, regardless of which model produced it.\n"
}

// BuildRankingPrompt constructs the Stage-2 peer-review prompt. Responses are
// introduced only by their anonymous labels; the label map travels back to
// the caller out-of-band and must never appear in the prompt.
func BuildRankingPrompt(question string, responses []Response, labels []Label, history []HistoryTurn) string {
	pairs, pending := FilterHistory(history)
	if question == "" {
		question = pending
	}

	return fmt.Sprintf(`You are evaluating different responses to the following question:

%s

Here are the responses from different models (anonymized):

%s
%s
Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A1")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A1 provides good detail on X but misses Y...
Response A2 is accurate but lacks depth on Z...
Response B1 offers the most comprehensive answer...

FINAL RANKING:
1. Response B1
2. Response A1
3. Response A2

Now provide your evaluation and ranking:`,
		questionBlock(question, pairs),
		anonymizedResponses(responses, labels),
		multiRoundNote(labels))
}

// BuildChairmanPrompt constructs the Stage-3 synthesis prompt. Both the
// responses and the rankings are presented under anonymous labels; a
// reviewer's own ranking is attributed to that reviewer's response label so
// the chairman cannot tell which model said what.
func BuildChairmanPrompt(question string, responses []Response, labels []Label, rankings []Ranking, history []HistoryTurn) string {
	pairs, pending := FilterHistory(history)
	if question == "" {
		question = pending
	}

	// A model with several rounds keeps its last label for reviewer
	// attribution; the ranking was submitted once per identity.
	modelToToken := make(map[string]string, len(responses))
	for i, r := range responses {
		modelToToken[r.Model] = labels[i].Token()
	}

	var rankingParts []string
	for _, r := range rankings {
		reviewer, ok := modelToToken[r.Model]
		if !ok {
			reviewer = r.Model
		}
		rankingParts = append(rankingParts, fmt.Sprintf("Ranking by %s:\n%s", reviewer, r.RawText))
	}

	// The context block precedes the question label; the question itself
	// stays bare so the label always introduces exactly the current question.
	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

%sOriginal Question: %s

STAGE 1 - Individual Responses (Anonymized):
%s
%s
STAGE 2 - Peer Rankings (Anonymized):
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement
- The previous conversation context (if any) to ensure continuity

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`,
		formatContext(pairs),
		question,
		anonymizedResponses(responses, labels),
		multiRoundNote(labels),
		strings.Join(rankingParts, "\n\n"))
}
