package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// DefaultMaxIterations caps network routing iterations per run.
const DefaultMaxIterations = 15

// Network routes between the gatherer and coder agents until a run completes,
// suspends on an unanswered question, or hits the iteration cap.
type Network struct {
	Gatherer *Agent
	Coder    *Agent

	// MaxIterations defaults to DefaultMaxIterations when zero.
	MaxIterations int
}

// RunResult describes how a network run ended. Suspended means the run
// stopped on an open user question and must not be finalized; a resumed
// execution will pick the project up from the message store.
type RunResult struct {
	Suspended  bool
	Iterations int
}

// Run drives the routing loop. Each iteration snapshots state, routes, and
// executes the chosen agent against the shared history. The seed history is
// prior conversation context; input is the message that triggered this run.
func (n *Network) Run(ctx context.Context, st *State, input string, seed []llms.MessageContent) (RunResult, error) {
	maxIter := n.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}

	history := make([]llms.MessageContent, 0, len(seed)+1)
	history = append(history, seed...)
	history = append(history, llms.TextParts(llms.ChatMessageTypeHuman, input))

	for i := 0; i < maxIter; i++ {
		decision := Route(st.Snapshot())
		log.Debug().
			Str("project_id", st.ProjectID()).
			Int("iteration", i).
			Stringer("decision", decision).
			Msg("network routing")

		switch decision {
		case DecisionDone:
			return RunResult{Iterations: i}, nil
		case DecisionPause:
			return RunResult{Suspended: true, Iterations: i}, nil
		case DecisionGather:
			var err error
			history, err = n.Gatherer.Run(ctx, st, history)
			if err != nil {
				return RunResult{Iterations: i}, fmt.Errorf("gatherer: %w", err)
			}
		case DecisionCode:
			var err error
			history, err = n.Coder.Run(ctx, st, history)
			if err != nil {
				return RunResult{Iterations: i}, fmt.Errorf("coder: %w", err)
			}
		}
	}

	// Cap reached without a summary. The run still completes; the caller's
	// finalization classifies it as an error run when no summary exists.
	log.Warn().Str("project_id", st.ProjectID()).Int("max_iterations", maxIter).Msg("network hit iteration cap")
	return RunResult{Iterations: maxIter}, nil
}
