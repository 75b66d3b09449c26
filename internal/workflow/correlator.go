// Package workflow runs the durable code-agent coordinator as a River worker
// and correlates agent questions with user responses.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/appforge/internal/store"
	"github.com/appforge/pkg/models"
)

// NoResponse is the sentinel returned when a question expires without an
// answer. It is data for the agent, not an error.
const NoResponse = "no response"

// DefaultQuestionTimeout is how long a run waits for the user to answer.
const DefaultQuestionTimeout = 24 * time.Hour

// Correlator matches user responses to outstanding agent questions by
// question ID. Questions are persisted as pending_questions rows so a restart
// can see what the run is waiting on; the waiter channels are in-process and
// belong to the execution currently blocked in Await.
type Correlator struct {
	store store.Store

	mu      sync.Mutex
	waiters map[string]chan string
}

func NewCorrelator(st store.Store) *Correlator {
	return &Correlator{
		store:   st,
		waiters: make(map[string]chan string),
	}
}

// Ask persists the pending question and registers a waiter for its ID. It
// must be followed by Await (or Forget) for the same ID.
func (c *Correlator) Ask(ctx context.Context, q *models.PendingQuestion) error {
	if err := c.store.CreatePendingQuestion(ctx, q); err != nil {
		return fmt.Errorf("persist pending question: %w", err)
	}
	c.register(q.QuestionID)
	return nil
}

// Rewait registers a waiter for a question that was already persisted by an
// earlier ask, so a re-suspension blocks on the same ID without creating a
// second record.
func (c *Correlator) Rewait(questionID string) {
	c.register(questionID)
}

func (c *Correlator) register(questionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiters[questionID]; !ok {
		c.waiters[questionID] = make(chan string, 1)
	}
}

// Await blocks until the question is answered, the timeout elapses, or ctx is
// cancelled. Timeout resolves to the NoResponse sentinel with answered=false;
// only ctx cancellation is an error.
func (c *Correlator) Await(ctx context.Context, questionID string, timeout time.Duration) (answer string, answered bool, err error) {
	if timeout <= 0 {
		timeout = DefaultQuestionTimeout
	}

	c.mu.Lock()
	ch, ok := c.waiters[questionID]
	c.mu.Unlock()
	if !ok {
		return "", false, fmt.Errorf("no waiter registered for question %s", questionID)
	}
	defer c.Forget(questionID)

	// The answer may have landed before this execution got around to
	// waiting (e.g. between retries of the run).
	if q, err := c.store.GetPendingQuestion(ctx, questionID); err == nil && q.Answered() {
		return *q.Answer, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case answer := <-ch:
		return answer, true, nil
	case <-timer.C:
		log.Warn().Str("question_id", questionID).Dur("timeout", timeout).Msg("question expired without a response")
		return NoResponse, false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Deliver records the answer for exactly the given question ID and wakes its
// waiter if one is blocked. Unknown IDs return store.ErrNotFound and resolve
// nothing; an answer for question B never unblocks a wait on question A.
func (c *Correlator) Deliver(ctx context.Context, questionID, answer string) error {
	if err := c.store.AnswerPendingQuestion(ctx, questionID, answer); err != nil {
		return err
	}

	c.mu.Lock()
	ch, ok := c.waiters[questionID]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- answer:
		default:
		}
	}
	log.Info().Str("question_id", questionID).Bool("waiter_present", ok).Msg("response delivered")
	return nil
}

// Forget drops the in-process waiter for a question. The persisted row stays.
func (c *Correlator) Forget(questionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, questionID)
}
