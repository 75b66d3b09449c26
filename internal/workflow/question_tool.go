package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/appforge/internal/agent"
	"github.com/appforge/internal/store"
	"github.com/appforge/pkg/models"
)

// AskUserQuestionTool suspends the run on a clarifying question and resumes
// with the user's answer. It persists both the QUESTION message the user sees
// and the pending-question record the correlator resolves against.
type AskUserQuestionTool struct {
	Store      store.Store
	Correlator *Correlator

	// Timeout defaults to DefaultQuestionTimeout when zero.
	Timeout time.Duration
}

func (t *AskUserQuestionTool) Name() string { return "ask_user_question" }

func (t *AskUserQuestionTool) Description() string {
	return "Ask the user a clarifying question and wait for their answer"
}

func (t *AskUserQuestionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required": []string{"question"},
	}
}

// Call is idempotent per question text within a run: a cached answer is
// returned without asking again, and an asked-but-unanswered question
// re-suspends on the original question ID instead of posting a duplicate.
func (t *AskUserQuestionTool) Call(ctx context.Context, st *agent.State, args json.RawMessage) (string, error) {
	var params struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid ask_user_question arguments: %w", err)
	}
	if params.Question == "" {
		return "", fmt.Errorf("ask_user_question requires a non-empty question")
	}

	if answer, ok := st.CachedAnswer(params.Question); ok {
		return answer, nil
	}

	if st.AlreadyAsked(params.Question) {
		return t.reawait(ctx, st, params.Question)
	}

	questionID := uuid.NewString()
	step := st.BeginQuestion(params.Question)

	pending := &models.PendingQuestion{
		QuestionID: questionID,
		ProjectID:  st.ProjectID(),
		Question:   params.Question,
		Step:       step,
		CreatedAt:  time.Now(),
	}
	if err := t.Correlator.Ask(ctx, pending); err != nil {
		st.ResolveQuestion(params.Question, "", false)
		return "", err
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ProjectID: st.ProjectID(),
		Role:      models.RoleAssistant,
		Type:      models.TypeQuestion,
		Content:   params.Question,
		Metadata: map[string]string{
			models.MetaQuestionID: questionID,
			models.MetaStep:       strconv.Itoa(step),
		},
	}
	if err := t.Store.CreateMessage(ctx, msg); err != nil {
		t.Correlator.Forget(questionID)
		st.ResolveQuestion(params.Question, "", false)
		return "", fmt.Errorf("persist question message: %w", err)
	}

	log.Info().
		Str("project_id", st.ProjectID()).
		Str("question_id", questionID).
		Int("step", step).
		Msg("awaiting user response")

	return t.await(ctx, st, questionID, params.Question)
}

// reawait blocks on the question's original ID. The question was persisted by
// an earlier execution; no new QUESTION message is written.
func (t *AskUserQuestionTool) reawait(ctx context.Context, st *agent.State, question string) (string, error) {
	pending, err := t.findOpenQuestion(ctx, st.ProjectID(), question)
	if err != nil {
		return "", err
	}
	if pending.Answered() {
		st.ResolveQuestion(question, *pending.Answer, true)
		return *pending.Answer, nil
	}

	st.BeginQuestion(question)
	t.Correlator.Rewait(pending.QuestionID)

	log.Info().
		Str("project_id", st.ProjectID()).
		Str("question_id", pending.QuestionID).
		Msg("re-suspending on existing question")

	return t.await(ctx, st, pending.QuestionID, question)
}

func (t *AskUserQuestionTool) await(ctx context.Context, st *agent.State, questionID, question string) (string, error) {
	answer, answered, err := t.Correlator.Await(ctx, questionID, t.Timeout)
	if err != nil {
		st.ResolveQuestion(question, "", false)
		return "", err
	}
	st.ResolveQuestion(question, answer, answered)
	return answer, nil
}

func (t *AskUserQuestionTool) findOpenQuestion(ctx context.Context, projectID, question string) (*models.PendingQuestion, error) {
	questions, err := t.Store.ListPendingQuestions(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pending questions: %w", err)
	}
	// Newest matching record wins; the same text may have been asked and
	// answered in an earlier run.
	var match *models.PendingQuestion
	for _, q := range questions {
		if q.Question != question {
			continue
		}
		if match == nil || q.CreatedAt.After(match.CreatedAt) {
			match = q
		}
	}
	if match == nil {
		return nil, fmt.Errorf("question asked but no pending record found: %w", store.ErrNotFound)
	}
	return match, nil
}
