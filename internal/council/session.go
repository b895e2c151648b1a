package council

import (
	"errors"
	"fmt"
)

// Stage is the deliberation state. Transitions are forward-only and gated;
// Back and Discard are the only ways backward.
type Stage int

const (
	Stage1Collecting Stage = iota
	Stage2Collecting
	Stage3Collecting
	Completed
)

func (s Stage) String() string {
	switch s {
	case Stage1Collecting:
		return "stage1_collecting"
	case Stage2Collecting:
		return "stage2_collecting"
	case Stage3Collecting:
		return "stage3_collecting"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

var (
	// ErrDuplicateModel gates overwrites: adding under an identity that
	// already has an entry fails with this until the caller confirms by
	// retrying with overwrite set. The stored set is untouched meanwhile.
	ErrDuplicateModel = errors.New("model already has a stored entry")

	ErrWrongStage     = errors.New("operation not legal in current stage")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrNoResponses    = errors.New("no responses collected")
	ErrNoRankings     = errors.New("no rankings collected")
	ErrEmptySynthesis = errors.New("synthesizer identity and synthesis text are required")
)

// Session is the mutable state of one deliberation. It is single-writer:
// concurrent mutations on the same session must be serialized by the caller.
// Every mutation should be followed by a draft write so a reload resumes at
// the last state.
type Session struct {
	ConversationID string

	stage     Stage
	question  string
	history   []HistoryTurn
	responses []Response
	labels    []Label
	labelMap  LabelMap
	rankings  []Ranking
	aggregate []AggregateEntry

	stage2Prompt string
	stage3Prompt string

	synthModel         string
	synthJustification string
	synthesisDraft     string
}

func NewSession(conversationID string, history []HistoryTurn) *Session {
	return &Session{
		ConversationID: conversationID,
		stage:          Stage1Collecting,
		history:        history,
	}
}

func (s *Session) Stage() Stage                { return s.stage }
func (s *Session) Question() string            { return s.question }
func (s *Session) Responses() []Response       { return s.responses }
func (s *Session) Rankings() []Ranking         { return s.rankings }
func (s *Session) Labels() []Label             { return s.labels }
func (s *Session) LabelMap() LabelMap          { return s.labelMap }
func (s *Session) Aggregate() []AggregateEntry { return s.aggregate }
func (s *Session) Stage2Prompt() string        { return s.stage2Prompt }
func (s *Session) Stage3Prompt() string        { return s.stage3Prompt }

// PreselectedSynthesizer returns the Stage-3 preselection and its recorded
// justification, valid after the Stage2 -> Stage3 transition.
func (s *Session) PreselectedSynthesizer() (string, string) {
	return s.synthModel, s.synthJustification
}

func (s *Session) SetQuestion(q string) error {
	if s.stage != Stage1Collecting {
		return ErrWrongStage
	}
	s.question = q
	return nil
}

func (s *Session) SetSynthesisDraft(text string) error {
	if s.stage != Stage3Collecting {
		return ErrWrongStage
	}
	s.synthesisDraft = text
	return nil
}

// currentQuestion resolves the question for prompt building: the explicit one
// if set, otherwise a trailing unanswered user turn from history.
func (s *Session) currentQuestion() string {
	if s.question != "" {
		return s.question
	}
	_, pending := FilterHistory(s.history)
	return pending
}

// AddResponse stores a Stage-1 response. An identity that already has stored
// response(s) requires overwrite; confirmed, the new response takes the first
// existing entry's position (labels of every other response are unaffected)
// and any extra round entries for that identity are dropped.
func (s *Session) AddResponse(model, text string, overwrite bool) error {
	if s.stage != Stage1Collecting {
		return ErrWrongStage
	}

	first := -1
	for i, r := range s.responses {
		if r.Model == model {
			first = i
			break
		}
	}
	if first == -1 {
		s.responses = append(s.responses, Response{Model: model, Text: text})
		return nil
	}
	if !overwrite {
		return ErrDuplicateModel
	}

	s.responses[first].Text = text
	kept := s.responses[:first+1]
	for _, r := range s.responses[first+1:] {
		if r.Model != model {
			kept = append(kept, r)
		}
	}
	s.responses = kept
	return nil
}

// HasResponses reports whether the base identity, with or without the
// extended-reasoning variant, already has stored responses. Multi-round
// automation asks once before a run; confirmation covers all of them.
func (s *Session) HasResponses(baseModel string) bool {
	variant := IdentityFor(baseModel, true)
	for _, r := range s.responses {
		if r.Model == baseModel || r.Model == variant {
			return true
		}
	}
	return false
}

// ClearResponses removes every stored response for the base identity and its
// extended-reasoning variant, ahead of a confirmed multi-round rerun.
func (s *Session) ClearResponses(baseModel string) error {
	if s.stage != Stage1Collecting {
		return ErrWrongStage
	}
	variant := IdentityFor(baseModel, true)
	kept := s.responses[:0]
	for _, r := range s.responses {
		if r.Model != baseModel && r.Model != variant {
			kept = append(kept, r)
		}
	}
	s.responses = kept
	return nil
}

// AppendRound appends one round result without the duplicate gate. Multi-round
// sampling legitimately stores several responses under one identity; they
// become sequential rounds of the same letter.
func (s *Session) AppendRound(model, text string) error {
	if s.stage != Stage1Collecting {
		return ErrWrongStage
	}
	s.responses = append(s.responses, Response{Model: model, Text: text})
	return nil
}

// AddRanking stores a Stage-2 submission under the reviewer's identity, with
// the same duplicate gate as AddResponse. Parsed labels are derived here for
// display but re-derived from the raw text on the Stage-3 transition.
func (s *Session) AddRanking(model, rawText string, overwrite bool) error {
	if s.stage != Stage2Collecting {
		return ErrWrongStage
	}

	ranking := Ranking{Model: model, RawText: rawText, ParsedLabels: ExtractRanking(rawText)}
	for i, r := range s.rankings {
		if r.Model == model {
			if !overwrite {
				return ErrDuplicateModel
			}
			s.rankings[i] = ranking
			return nil
		}
	}
	s.rankings = append(s.rankings, ranking)
	return nil
}

// AdvanceToStage2 moves Stage1 -> Stage2: assigns labels and builds the
// peer-review prompt. The label map is returned out-of-band; it must never
// reach a reviewer. Idempotent on re-entry after Back.
func (s *Session) AdvanceToStage2() (string, LabelMap, error) {
	if s.stage != Stage1Collecting {
		return "", nil, ErrWrongStage
	}
	question := s.currentQuestion()
	if question == "" {
		return "", nil, ErrEmptyQuestion
	}
	if len(s.responses) == 0 {
		return "", nil, ErrNoResponses
	}

	s.question = question
	s.labels, s.labelMap = AssignLabels(s.responses)
	s.stage2Prompt = BuildRankingPrompt(s.question, s.responses, s.labels, s.history)
	s.stage = Stage2Collecting
	return s.stage2Prompt, s.labelMap, nil
}

// AdvanceToStage3 moves Stage2 -> Stage3: re-extracts every stored ranking
// from its raw text, aggregates, builds the synthesis prompt, and preselects
// the synthesizer. Idempotent on re-entry after Back.
func (s *Session) AdvanceToStage3() (string, error) {
	if s.stage != Stage2Collecting {
		return "", ErrWrongStage
	}
	if len(s.rankings) == 0 {
		return "", ErrNoRankings
	}

	for i := range s.rankings {
		s.rankings[i].ParsedLabels = ExtractRanking(s.rankings[i].RawText)
	}
	s.aggregate = Aggregate(s.rankings, s.labelMap)
	s.stage3Prompt = BuildChairmanPrompt(s.question, s.responses, s.labels, s.rankings, s.history)
	s.synthModel, s.synthJustification = PreselectSynthesizer(s.aggregate, s.responses)
	s.stage = Stage3Collecting
	return s.stage3Prompt, nil
}

// Complete moves Stage3 -> Completed and returns the final record for the
// sink. The caller persists the record and deletes the session draft.
func (s *Session) Complete(synthModel, synthesisText string) (*FinalRecord, error) {
	if s.stage != Stage3Collecting {
		return nil, ErrWrongStage
	}
	if synthModel == "" || synthesisText == "" {
		return nil, ErrEmptySynthesis
	}

	record := &FinalRecord{
		Question:  s.question,
		Responses: s.responses,
		Rankings:  s.rankings,
		Synthesis: Synthesis{Model: synthModel, Text: synthesisText},
		LabelMap:  s.labelMap,
		Aggregate: s.aggregate,
	}
	s.stage = Completed
	return record, nil
}

// Back steps one stage backward. It is a pure state change; any recomputation
// happens on the next forward transition, which is idempotent.
func (s *Session) Back() {
	switch s.stage {
	case Stage2Collecting:
		s.stage = Stage1Collecting
	case Stage3Collecting:
		s.stage = Stage2Collecting
	}
}

// Discard drops all accumulated state and returns to a fresh Stage1. Legal
// from any stage.
func (s *Session) Discard() {
	s.stage = Stage1Collecting
	s.question = ""
	s.responses = nil
	s.labels = nil
	s.labelMap = nil
	s.rankings = nil
	s.aggregate = nil
	s.stage2Prompt = ""
	s.stage3Prompt = ""
	s.synthModel = ""
	s.synthJustification = ""
	s.synthesisDraft = ""
}

// Snapshot is the persisted form of a session, written to the draft store
// after every mutation and read back on resume.
type Snapshot struct {
	ConversationID     string           `json:"conversation_id"`
	Stage              Stage            `json:"stage"`
	Question           string           `json:"question"`
	Responses          []Response       `json:"responses"`
	Labels             []Label          `json:"labels"`
	LabelMap           LabelMap         `json:"label_to_model"`
	Rankings           []Ranking        `json:"rankings"`
	Aggregate          []AggregateEntry `json:"aggregate_rankings"`
	Stage2Prompt       string           `json:"stage2_prompt,omitempty"`
	Stage3Prompt       string           `json:"stage3_prompt,omitempty"`
	SynthModel         string           `json:"synthesizer,omitempty"`
	SynthJustification string           `json:"synthesizer_justification,omitempty"`
	SynthesisDraft     string           `json:"synthesis_draft,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ConversationID:     s.ConversationID,
		Stage:              s.stage,
		Question:           s.question,
		Responses:          s.responses,
		Labels:             s.labels,
		LabelMap:           s.labelMap,
		Rankings:           s.rankings,
		Aggregate:          s.aggregate,
		Stage2Prompt:       s.stage2Prompt,
		Stage3Prompt:       s.stage3Prompt,
		SynthModel:         s.synthModel,
		SynthJustification: s.synthJustification,
		SynthesisDraft:     s.synthesisDraft,
	}
}

// Resume rebuilds a session from a persisted snapshot. History is supplied
// fresh from the history source, not from the draft.
func Resume(snap Snapshot, history []HistoryTurn) *Session {
	return &Session{
		ConversationID:     snap.ConversationID,
		stage:              snap.Stage,
		question:           snap.Question,
		history:            history,
		responses:          snap.Responses,
		labels:             snap.Labels,
		labelMap:           snap.LabelMap,
		rankings:           snap.Rankings,
		aggregate:          snap.Aggregate,
		stage2Prompt:       snap.Stage2Prompt,
		stage3Prompt:       snap.Stage3Prompt,
		synthModel:         snap.SynthModel,
		synthJustification: snap.SynthJustification,
		synthesisDraft:     snap.SynthesisDraft,
	}
}
