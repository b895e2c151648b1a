package council

import (
	"regexp"
	"strings"
)

// VariantExtendedReasoning marks responses produced with a provider's
// extended-reasoning mode. "Model X" and "Model X [Ext. Thinking]" are
// different response distributions and are labeled, ranked, and aggregated
// as distinct identities.
const VariantExtendedReasoning = "extended_reasoning"

const extendedReasoningSuffix = " [Ext. Thinking]"

// Identity is a council member identity: a base model plus an optional
// variant. The derived display string from String() is the identity key that
// the label assigner, aggregator, and session all operate on.
type Identity struct {
	BaseModel string
	Variant   string
}

func (id Identity) String() string {
	if id.Variant == VariantExtendedReasoning && !encodesThinking(id.BaseModel) {
		return id.BaseModel + extendedReasoningSuffix
	}
	return id.BaseModel
}

// IdentityFor derives the stored identity string for an automation result.
// It is the single place the reasoning-mode suffix is produced.
func IdentityFor(baseModel string, usedExtendedReasoning bool) string {
	if usedExtendedReasoning {
		return Identity{BaseModel: baseModel, Variant: VariantExtendedReasoning}.String()
	}
	return Identity{BaseModel: baseModel}.String()
}

var thinkingRe = regexp.MustCompile(`(?i)\(Ext\)\s*Thinking|\[Ext\.\s*Thinking\]|\[Thinking\]|\(Thinking\)|\sThinking$`)

func encodesThinking(name string) bool {
	return thinkingRe.MatchString(name)
}

var (
	chatGPTRe         = regexp.MustCompile(`(?i)Chat\s*GPT`)
	thinkingSuffixRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*\(Ext\)\s*Thinking`),
		regexp.MustCompile(`(?i)\s*\[Ext\.\s*Thinking\]`),
		regexp.MustCompile(`(?i)\s*\[Thinking\]`),
		regexp.MustCompile(`(?i)\s*\(Thinking\)`),
		regexp.MustCompile(`(?i)\s+Thinking$`),
	}
)

// CleanModelName normalizes a model identity for the leaderboard: thinking
// suffixes are stripped (the leaderboard tracks base models) and "Chat GPT"
// spellings collapse to "ChatGPT".
func CleanModelName(name string) string {
	if name == "" {
		return name
	}

	name = chatGPTRe.ReplaceAllString(name, "ChatGPT")
	for _, re := range thinkingSuffixRes {
		name = re.ReplaceAllString(name, "")
	}
	return strings.TrimSpace(name)
}
