package council

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRankingPrompt_AnonymizesModels(t *testing.T) {
	responses := []Response{
		{Model: "Claude Sonnet 4", Text: "claude's answer"},
		{Model: "ChatGPT 5", Text: "chatgpt's answer"},
	}
	labels := []Label{"A1", "B1"}

	prompt := BuildRankingPrompt("What is Go?", responses, labels, nil)

	assert.Contains(t, prompt, "Response A1:\nclaude's answer")
	assert.Contains(t, prompt, "Response B1:\nchatgpt's answer")
	assert.Contains(t, prompt, "FINAL RANKING:")
	// The anonymity guarantee: no model identity in the prompt text.
	assert.NotContains(t, prompt, "Claude Sonnet 4")
	assert.NotContains(t, prompt, "ChatGPT 5")
}

func TestBuildRankingPrompt_NoHistoryNoContextHeader(t *testing.T) {
	responses := []Response{{Model: "M1", Text: "answer"}}

	prompt := BuildRankingPrompt("What is Go?", responses, []Label{"A1"}, nil)

	assert.Contains(t, prompt, "What is Go?")
	assert.NotContains(t, prompt, "PREVIOUS CONTEXT")
	assert.NotContains(t, prompt, "Current Question:")
}

func TestBuildRankingPrompt_HistoryNumberedFromOne(t *testing.T) {
	history := []HistoryTurn{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
		{Role: "assistant", Content: "second answer"},
	}
	responses := []Response{{Model: "M1", Text: "answer"}}

	prompt := BuildRankingPrompt("third question", responses, []Label{"A1"}, history)

	assert.Contains(t, prompt, "PREVIOUS CONTEXT:")
	assert.Contains(t, prompt, "User Question 1: first question")
	assert.Contains(t, prompt, "LLM Answer 1: first answer")
	assert.Contains(t, prompt, "User Question 2: second question")
	assert.Contains(t, prompt, "Current Question: third question")
}

func TestBuildRankingPrompt_TrailingUserTurnBecomesQuestion(t *testing.T) {
	history := []HistoryTurn{
		{Role: "user", Content: "answered question"},
		{Role: "assistant", Content: "the answer"},
		{Role: "user", Content: "unanswered question"},
	}
	responses := []Response{{Model: "M1", Text: "answer"}}

	prompt := BuildRankingPrompt("", responses, []Label{"A1"}, history)

	assert.Contains(t, prompt, "Current Question: unanswered question")
	// The unanswered turn is not context.
	assert.NotContains(t, prompt, "User Question 2")
}

func TestBuildRankingPrompt_MultiRoundNote(t *testing.T) {
	responses := []Response{
		{Model: "M1", Text: "r1"},
		{Model: "M2", Text: "r2"},
		{Model: "M1", Text: "r3"},
	}
	labels := []Label{"A1", "B1", "A2"}

	prompt := BuildRankingPrompt("Q", responses, labels, nil)

	assert.Contains(t, prompt, "NOTE ON RESPONSES:")
	assert.Contains(t, prompt, "Responses A1, A2 are from the same model")
	assert.NotContains(t, prompt, "Responses B1")
}

func TestBuildRankingPrompt_SingleRoundNoNote(t *testing.T) {
	responses := []Response{{Model: "M1", Text: "r1"}, {Model: "M2", Text: "r2"}}

	prompt := BuildRankingPrompt("Q", responses, []Label{"A1", "B1"}, nil)

	assert.NotContains(t, prompt, "NOTE ON RESPONSES:")
}

func TestBuildChairmanPrompt_AnonymizedRankings(t *testing.T) {
	responses := []Response{
		{Model: "M1", Text: "r1"},
		{Model: "M2", Text: "r2"},
	}
	labels := []Label{"A1", "B1"}
	rankings := []Ranking{
		{Model: "M1", RawText: "FINAL RANKING:\n1. Response B1\n2. Response A1"},
		{Model: "M2", RawText: "FINAL RANKING:\n1. Response A1\n2. Response B1"},
	}

	prompt := BuildChairmanPrompt("Q", responses, labels, rankings, nil)

	assert.Contains(t, prompt, "Ranking by Response A1:")
	assert.Contains(t, prompt, "Ranking by Response B1:")
	assert.Contains(t, prompt, "STAGE 1 - Individual Responses (Anonymized):")
	assert.Contains(t, prompt, "STAGE 2 - Peer Rankings (Anonymized):")
	assert.NotContains(t, prompt, "M1")
	assert.NotContains(t, prompt, "M2")
}

func TestBuildChairmanPrompt_ContextPrecedesQuestionLabel(t *testing.T) {
	history := []HistoryTurn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	responses := []Response{{Model: "M1", Text: "r1"}}

	prompt := BuildChairmanPrompt("the follow-up", responses, []Label{"A1"}, nil, history)

	contextIdx := strings.Index(prompt, "PREVIOUS CONTEXT:")
	labelIdx := strings.Index(prompt, "Original Question:")
	require.NotEqual(t, -1, contextIdx)
	require.NotEqual(t, -1, labelIdx)
	assert.Less(t, contextIdx, labelIdx)
	// The label introduces the bare current question, never the context block.
	assert.Contains(t, prompt, "Original Question: the follow-up\n")
	assert.NotContains(t, prompt, "Original Question: PREVIOUS CONTEXT")
	assert.NotContains(t, prompt, "Current Question:")
}

func TestBuildChairmanPrompt_NoHistoryNoContextHeader(t *testing.T) {
	responses := []Response{{Model: "M1", Text: "r1"}}

	prompt := BuildChairmanPrompt("Q", responses, []Label{"A1"}, nil, nil)

	assert.Contains(t, prompt, "Original Question: Q\n")
	assert.NotContains(t, prompt, "PREVIOUS CONTEXT")
}

func TestBuildChairmanPrompt_ReviewerWithoutResponseKeepsName(t *testing.T) {
	responses := []Response{{Model: "M1", Text: "r1"}}
	rankings := []Ranking{
		{Model: "Outside Reviewer", RawText: "FINAL RANKING:\n1. Response A1"},
	}

	prompt := BuildChairmanPrompt("Q", responses, []Label{"A1"}, rankings, nil)

	assert.Contains(t, prompt, "Ranking by Outside Reviewer:")
}

func TestFilterHistory(t *testing.T) {
	turns := []HistoryTurn{
		{Role: "assistant", Content: "orphan answer"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "pending"},
	}

	pairs, pending := FilterHistory(turns)

	require.Len(t, pairs, 1)
	assert.Equal(t, QA{Question: "q1", Answer: "a1"}, pairs[0])
	assert.Equal(t, "pending", pending)
}

func TestFilterHistory_Empty(t *testing.T) {
	pairs, pending := FilterHistory(nil)
	assert.Empty(t, pairs)
	assert.Empty(t, pending)
}

func TestFormatContext_MissingAnswerPlaceholder(t *testing.T) {
	text := formatContext([]QA{{Question: "q1", Answer: ""}})
	assert.True(t, strings.Contains(text, "(No response)"))
}
