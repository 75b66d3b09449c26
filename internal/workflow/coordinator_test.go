package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/internal/llm"
	"github.com/appforge/internal/llm/llmtest"
	"github.com/appforge/internal/sandbox"
	"github.com/appforge/internal/store"
	"github.com/appforge/pkg/models"
)

const gatherReply = `Great, I have everything I need.

<business_info>
{"businessName": "Acme Bakery", "businessDescription": "Neighborhood bakery",
"businessIndustry": "Food & Beverage", "businessSubIndustry": "Bakery",
"businessAddress": "1 Main St", "businessContactInfo": "acme@example.com"}
</business_info>`

const summaryReply = `The app is done.

<task_summary>
A landing page for Acme Bakery.
</task_summary>`

const writePageArgs = `{"files":[{"path":"app/page.tsx","content":"export default function Page() {}"}]}`

func newTestCoordinator(model *llmtest.ScriptedModel) (*Coordinator, *store.InMemoryStore, *sandbox.FakeProvisioner) {
	memStore := store.NewInMemoryStore()
	corr := NewCorrelator(memStore)
	prov := sandbox.NewFakeProvisioner()
	conn := llm.NewConnectorWithModel(model, llm.Options{})
	coord := NewCoordinator(memStore, corr, prov, conn)
	coord.QuestionTimeout = time.Minute
	return coord, memStore, prov
}

func seedProject(t *testing.T, memStore *store.InMemoryStore, prompt string) *models.Project {
	t.Helper()
	ctx := context.Background()
	project := &models.Project{ID: "p1", UserID: "u1", Name: "Acme"}
	require.NoError(t, memStore.CreateProject(ctx, project))
	require.NoError(t, memStore.CreateMessage(ctx, &models.Message{
		ProjectID: project.ID,
		Role:      models.RoleUser,
		Type:      models.TypeResult,
		Content:   prompt,
	}))
	return project
}

func assistantMessages(t *testing.T, memStore *store.InMemoryStore, projectID string) []*models.Message {
	t.Helper()
	msgs, err := memStore.ListMessages(context.Background(), projectID)
	require.NoError(t, err)
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestCoordinatorRunProducesResult(t *testing.T) {
	model := llmtest.NewScriptedModel(
		llmtest.Text(gatherReply),
		llmtest.ToolCall("call-1", "create_or_update_files", writePageArgs),
		llmtest.Text(summaryReply),
		llmtest.Text("Acme Bakery Landing Page"),
		llmtest.Text("Your bakery site is ready!"),
	)
	coord, memStore, _ := newTestCoordinator(model)
	seedProject(t, memStore, "build me a bakery site")

	require.NoError(t, coord.Run(context.Background(), "p1", "build me a bakery site"))

	replies := assistantMessages(t, memStore, "p1")
	require.Len(t, replies, 1, "exactly one terminal message per completed run")
	result := replies[0]
	assert.Equal(t, models.TypeResult, result.Type)
	assert.Equal(t, "Your bakery site is ready!", result.Content)

	require.NotNil(t, result.Fragment)
	assert.Equal(t, "Acme Bakery Landing Page", result.Fragment.Title)
	assert.NotEmpty(t, result.Fragment.SandboxURL)
	assert.Contains(t, result.Fragment.Files, "app/page.tsx")
}

func TestCoordinatorIterationCapYieldsError(t *testing.T) {
	model := llmtest.NewScriptedModel(
		llmtest.Text("Tell me more about your business."),
		llmtest.Text("I still do not have enough information."),
	)
	coord, memStore, _ := newTestCoordinator(model)
	coord.MaxIterations = 2
	seedProject(t, memStore, "build something")

	require.NoError(t, coord.Run(context.Background(), "p1", "build something"))

	replies := assistantMessages(t, memStore, "p1")
	require.Len(t, replies, 1)
	assert.Equal(t, models.TypeError, replies[0].Type)
	assert.Equal(t, errorRunMessage, replies[0].Content)
	assert.Nil(t, replies[0].Fragment, "error runs carry no fragment")
}

func TestCoordinatorSkipsWhenLeaseHeld(t *testing.T) {
	model := llmtest.NewScriptedModel()
	coord, memStore, _ := newTestCoordinator(model)
	seedProject(t, memStore, "build something")

	acquired, err := memStore.AcquireLease(context.Background(), "p1", "other-run", coord.leaseStaleAfter())
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, coord.Run(context.Background(), "p1", "build something"))
	assert.Zero(t, model.CallCount())
	assert.Empty(t, assistantMessages(t, memStore, "p1"))
}

func TestCoordinatorRecoversAbandonedLease(t *testing.T) {
	model := llmtest.NewScriptedModel(
		llmtest.Text(gatherReply),
		llmtest.ToolCall("call-1", "create_or_update_files", writePageArgs),
		llmtest.Text(summaryReply),
		llmtest.Text("Acme Bakery Landing Page"),
		llmtest.Text("Your bakery site is ready!"),
	)
	coord, memStore, _ := newTestCoordinator(model)
	seedProject(t, memStore, "build me a bakery site")
	ctx := context.Background()

	// A process that crashed mid-run never reaches its deferred release. Age
	// the lease past the stale threshold by backdating its acquisition.
	memStore.SetClock(func() time.Time { return time.Now().Add(-2 * coord.leaseStaleAfter()) })
	acquired, err := memStore.AcquireLease(ctx, "p1", "crashed-owner", coord.leaseStaleAfter())
	require.NoError(t, err)
	require.True(t, acquired)
	memStore.SetClock(time.Now)

	require.NoError(t, coord.Run(ctx, "p1", "build me a bakery site"))

	replies := assistantMessages(t, memStore, "p1")
	require.Len(t, replies, 1, "the stale lease must not wedge the project")
	assert.Equal(t, models.TypeResult, replies[0].Type)
}

func TestCoordinatorSkipsWhileQuestionOpen(t *testing.T) {
	model := llmtest.NewScriptedModel()
	coord, memStore, _ := newTestCoordinator(model)
	seedProject(t, memStore, "build something")
	ctx := context.Background()

	pending := &models.PendingQuestion{ProjectID: "p1", Question: "What is your business name?", Step: 1}
	require.NoError(t, memStore.CreatePendingQuestion(ctx, pending))
	require.NoError(t, memStore.CreateMessage(ctx, &models.Message{
		ProjectID: "p1",
		Role:      models.RoleAssistant,
		Type:      models.TypeQuestion,
		Content:   pending.Question,
		Metadata:  map[string]string{models.MetaQuestionID: pending.QuestionID, models.MetaStep: "1"},
	}))

	require.NoError(t, coord.Run(ctx, "p1", "build something"))
	assert.Zero(t, model.CallCount(), "run must not start while a question is open")
}

func TestCoordinatorRunsAfterQuestionAnswered(t *testing.T) {
	model := llmtest.NewScriptedModel(
		llmtest.Text(gatherReply),
		llmtest.ToolCall("call-1", "create_or_update_files", writePageArgs),
		llmtest.Text(summaryReply),
		llmtest.Text("Acme Bakery Landing Page"),
		llmtest.Text("Your bakery site is ready!"),
	)
	coord, memStore, _ := newTestCoordinator(model)
	seedProject(t, memStore, "build something")
	ctx := context.Background()

	pending := &models.PendingQuestion{ProjectID: "p1", Question: "What is your business name?", Step: 1}
	require.NoError(t, memStore.CreatePendingQuestion(ctx, pending))
	require.NoError(t, memStore.CreateMessage(ctx, &models.Message{
		ProjectID: "p1",
		Role:      models.RoleAssistant,
		Type:      models.TypeQuestion,
		Content:   pending.Question,
		Metadata:  map[string]string{models.MetaQuestionID: pending.QuestionID, models.MetaStep: "1"},
	}))
	require.NoError(t, memStore.AnswerPendingQuestion(ctx, pending.QuestionID, "Acme Bakery"))

	require.NoError(t, coord.Run(ctx, "p1", "Acme Bakery"))

	replies := assistantMessages(t, memStore, "p1")
	// The earlier QUESTION message plus the new RESULT.
	require.Len(t, replies, 2)
	assert.Equal(t, models.TypeResult, replies[1].Type)
}

func TestCoordinatorMidRunQuestionRoundTrip(t *testing.T) {
	model := llmtest.NewScriptedModel(
		llmtest.ToolCall("call-1", "ask_user_question", `{"question":"What is your business name?"}`),
		llmtest.Text(gatherReply),
		llmtest.ToolCall("call-2", "create_or_update_files", writePageArgs),
		llmtest.Text(summaryReply),
		llmtest.Text("Acme Bakery Landing Page"),
		llmtest.Text("Your bakery site is ready!"),
	)
	coord, memStore, _ := newTestCoordinator(model)
	seedProject(t, memStore, "build me a bakery site")
	ctx := context.Background()

	go func() {
		pending := waitForPendingQuestion(t, memStore, "p1")
		_ = coord.Correlator.Deliver(ctx, pending.QuestionID, "Acme Bakery")
	}()

	require.NoError(t, coord.Run(ctx, "p1", "build me a bakery site"))

	msgs, err := memStore.ListMessages(ctx, "p1")
	require.NoError(t, err)
	// user prompt, QUESTION, RESULT
	require.Len(t, msgs, 3)
	assert.Equal(t, models.TypeQuestion, msgs[1].Type)
	assert.Equal(t, models.TypeResult, msgs[2].Type)
	require.NotNil(t, msgs[2].Fragment)
	assert.Contains(t, msgs[2].Fragment.Files, "app/page.tsx")
}

func TestCoordinatorRebuildsExpiredSandbox(t *testing.T) {
	model := llmtest.NewScriptedModel(
		llmtest.Text(gatherReply),
		llmtest.ToolCall("call-1", "create_or_update_files", writePageArgs),
		llmtest.Text(summaryReply),
		llmtest.Text("Acme Bakery Landing Page"),
		llmtest.Text("Your bakery site is ready!"),
	)
	coord, memStore, prov := newTestCoordinator(model)
	seedProject(t, memStore, "build me a bakery site")
	ctx := context.Background()

	require.NoError(t, coord.Run(ctx, "p1", "build me a bakery site"))
	require.Equal(t, 1, prov.CreatedCount())
	prov.Expire(coord.sandboxID("p1"))

	// Second run: previous files are reloaded into state, so the coder can
	// finish without rewriting them.
	model.Enqueue(
		llmtest.Text(gatherReply),
		llmtest.Text(summaryReply),
		llmtest.Text("Acme Bakery Landing Page"),
		llmtest.Text("Updated your bakery site!"),
	)
	require.NoError(t, memStore.CreateMessage(ctx, &models.Message{
		ProjectID: "p1",
		Role:      models.RoleUser,
		Type:      models.TypeResult,
		Content:   "tweak the colors",
	}))
	require.NoError(t, coord.Run(ctx, "p1", "tweak the colors"))

	assert.Equal(t, 2, prov.CreatedCount(), "expired sandbox is replaced")
	sb, err := prov.Connect(ctx, coord.sandboxID("p1"))
	require.NoError(t, err)
	content, err := sb.ReadFile(ctx, "app/page.tsx")
	require.NoError(t, err)
	assert.Equal(t, "export default function Page() {}", content, "files replayed into the new sandbox")

	replies := assistantMessages(t, memStore, "p1")
	require.Len(t, replies, 2)
	require.NotNil(t, replies[1].Fragment)
	assert.Contains(t, replies[1].Fragment.Files, "app/page.tsx")
}
