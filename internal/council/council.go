package council

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/council/internal/llm"
)

// Member is one queryable council seat: a display identity and the provider
// client behind it.
type Member struct {
	Name   string
	Client llm.Client
}

// Council fans deliberation work out over its members. The engine itself
// (labels, extraction, aggregation, session) stays pure; Council is the only
// place provider calls happen.
type Council struct {
	Members  []Member
	Chairman Member
}

// Stage1Collect queries every member concurrently and returns the successful
// responses in arrival order. Arrival order feeds label assignment, so letter
// assignment can differ between runs with different network timing; that is
// accepted nondeterminism. Failed members are logged and skipped.
func (c *Council) Stage1Collect(ctx context.Context, question string) []Response {
	var mu sync.Mutex
	var responses []Response

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.Members {
		m := m
		g.Go(func() error {
			res, err := m.Client.Generate(gctx, question)
			if err != nil {
				log.Printf("stage 1: %s failed: %v", m.Name, err)
				return nil // a failed member contributes nothing, the run continues
			}
			mu.Lock()
			responses = append(responses, Response{
				Model: IdentityFor(m.Name, res.UsedExtendedReasoning),
				Text:  res.Text,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return responses
}

// CollectRankings sends the Stage-2 prompt to every member concurrently and
// returns their raw submissions. Parsing happens later, on the Stage-3
// transition.
func (c *Council) CollectRankings(ctx context.Context, prompt string) []Ranking {
	var mu sync.Mutex
	var rankings []Ranking

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.Members {
		m := m
		g.Go(func() error {
			res, err := m.Client.Generate(gctx, prompt)
			if err != nil {
				log.Printf("stage 2: %s failed: %v", m.Name, err)
				return nil
			}
			mu.Lock()
			rankings = append(rankings, Ranking{
				Model:   IdentityFor(m.Name, res.UsedExtendedReasoning),
				RawText: res.Text,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return rankings
}

// RunRounds issues `rounds` sequential automation calls for one member and
// appends each result to the session. Rounds are never concurrent: a round's
// stored identity (reasoning-mode suffix included) is only known after the
// call returns, and that identity drives labeling.
//
// If the member already has stored responses, a single overwrite confirmation
// covers clearing all of them before the run. If a round fails, the remaining
// rounds are abandoned; rounds already appended from this run are kept. The
// number of completed rounds is returned either way.
func (c *Council) RunRounds(ctx context.Context, sess *Session, member Member, prompt string, rounds int, overwrite bool) (int, error) {
	if rounds < 1 {
		return 0, fmt.Errorf("rounds must be at least 1")
	}
	if sess.HasResponses(member.Name) {
		if !overwrite {
			return 0, ErrDuplicateModel
		}
		if err := sess.ClearResponses(member.Name); err != nil {
			return 0, err
		}
	}

	for i := 0; i < rounds; i++ {
		res, err := member.Client.Generate(ctx, prompt)
		if err != nil {
			return i, fmt.Errorf("round %d of %d failed: %w", i+1, rounds, err)
		}
		if err := sess.AppendRound(IdentityFor(member.Name, res.UsedExtendedReasoning), res.Text); err != nil {
			return i, err
		}
	}
	return rounds, nil
}

// ProgressEvent marks one step of an automated deliberation. Streaming
// observers receive start and complete events per stage; Data carries the
// stage's output and Metadata the Stage-2 label map and aggregate.
type ProgressEvent struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RunFull drives an entire automated deliberation through the session state
// machine: Stage-1 fan-out, Stage-2 peer review, Stage-3 chairman synthesis.
func (c *Council) RunFull(ctx context.Context, sess *Session, question string) (*FinalRecord, error) {
	return c.run(ctx, sess, question, nil)
}

// RunFullStream is RunFull with per-stage progress: emit is invoked at each
// stage boundary, in order, before the run moves on.
func (c *Council) RunFullStream(ctx context.Context, sess *Session, question string, emit func(ProgressEvent)) (*FinalRecord, error) {
	return c.run(ctx, sess, question, emit)
}

func (c *Council) run(ctx context.Context, sess *Session, question string, emit func(ProgressEvent)) (*FinalRecord, error) {
	notify := func(ev ProgressEvent) {
		if emit != nil {
			emit(ev)
		}
	}

	if err := sess.SetQuestion(question); err != nil {
		return nil, err
	}

	notify(ProgressEvent{Type: "stage1_start"})
	for _, r := range c.Stage1Collect(ctx, question) {
		if err := sess.AppendRound(r.Model, r.Text); err != nil {
			return nil, err
		}
	}
	notify(ProgressEvent{Type: "stage1_complete", Data: sess.Responses()})

	stage2Prompt, _, err := sess.AdvanceToStage2()
	if err != nil {
		return nil, err
	}

	notify(ProgressEvent{Type: "stage2_start"})
	for _, r := range c.CollectRankings(ctx, stage2Prompt) {
		if err := sess.AddRanking(r.Model, r.RawText, true); err != nil {
			return nil, err
		}
	}

	stage3Prompt, err := sess.AdvanceToStage3()
	if err != nil {
		return nil, err
	}
	notify(ProgressEvent{Type: "stage2_complete", Data: sess.Rankings(), Metadata: map[string]any{
		"label_to_model":     sess.LabelMap(),
		"aggregate_rankings": sess.Aggregate(),
	}})

	notify(ProgressEvent{Type: "stage3_start"})
	res, err := c.Chairman.Client.Generate(ctx, stage3Prompt)
	if err != nil {
		return nil, fmt.Errorf("chairman synthesis failed: %w", err)
	}

	record, err := sess.Complete(IdentityFor(c.Chairman.Name, res.UsedExtendedReasoning), res.Text)
	if err != nil {
		return nil, err
	}
	notify(ProgressEvent{Type: "stage3_complete", Data: record.Synthesis})
	return record, nil
}
