package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/internal/credits"
	"github.com/appforge/internal/sandbox"
	"github.com/appforge/internal/store"
	"github.com/appforge/internal/workflow"
	"github.com/appforge/pkg/models"
)

type fakeQueue struct {
	mu   sync.Mutex
	runs []string // "projectID|value"
	err  error
}

func (q *fakeQueue) EnqueueRun(ctx context.Context, projectID, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.runs = append(q.runs, projectID+"|"+value)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.runs)
}

type testEnv struct {
	server *Server
	store  *store.InMemoryStore
	ledger *credits.InMemoryLedger
	corr   *workflow.Correlator
	queue  *fakeQueue
	prov   *sandbox.FakeProvisioner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	memStore := store.NewInMemoryStore()
	ledger := credits.NewInMemoryLedger()
	corr := workflow.NewCorrelator(memStore)
	queue := &fakeQueue{}
	prov := sandbox.NewFakeProvisioner()
	return &testEnv{
		server: NewServer(0, memStore, ledger, corr, queue, prov),
		store:  memStore,
		ledger: ledger,
		corr:   corr,
		queue:  queue,
		prov:   prov,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Echo().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createProject(t *testing.T) models.Project {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Acme", "userId": "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var project models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))
	return project
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateProjectSeedsCredits(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)
	assert.NotEmpty(t, project.ID)
	assert.Equal(t, "u1", project.UserID)

	remaining, err := env.ledger.Remaining(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, initialCredits, remaining)

	// A second project for the same user does not top the balance up again.
	env.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Other", "userId": "u1"})
	remaining, err = env.ledger.Remaining(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, initialCredits, remaining)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMessageEnqueuesRun(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)

	rec := env.do(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"projectId": project.ID,
		"value":     "build me a bakery site",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	msgs, err := env.store.ListMessages(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "build me a bakery site", msgs[0].Content)

	assert.Equal(t, 1, env.queue.count())

	remaining, err := env.ledger.Remaining(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, initialCredits-1, remaining)
}

func TestCreateMessageUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"projectId": "missing",
		"value":     "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, env.queue.count())
}

func TestCreateMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)

	rec := env.do(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"projectId": project.ID,
		"value":     "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"projectId": project.ID,
		"value":     strings.Repeat("x", maxMessageLength+1),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.queue.count())
}

func TestCreateMessageOutOfCredits(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)

	require.NoError(t, env.ledger.Consume(context.Background(), "u1", initialCredits))

	rec := env.do(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"projectId": project.ID,
		"value":     "one more app please",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), outOfCreditsMessage)

	msgs, err := env.store.ListMessages(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected requests leave no trace in the conversation")
	assert.Zero(t, env.queue.count())
}

func TestListMessages(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two"} {
		require.NoError(t, env.store.CreateMessage(ctx, &models.Message{
			ProjectID: project.ID,
			Role:      models.RoleUser,
			Type:      models.TypeResult,
			Content:   content,
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/v1/projects/"+project.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)

	rec = env.do(t, http.MethodGet, "/api/v1/projects/missing/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateResponseDeliversAnswer(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)
	ctx := context.Background()

	pending := &models.PendingQuestion{ProjectID: project.ID, Question: "name?", Step: 1}
	require.NoError(t, env.store.CreatePendingQuestion(ctx, pending))

	rec := env.do(t, http.MethodPost, "/api/v1/responses", map[string]string{
		"projectId":  project.ID,
		"answer":     "Acme Bakery",
		"questionId": pending.QuestionID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := env.store.GetPendingQuestion(ctx, pending.QuestionID)
	require.NoError(t, err)
	assert.True(t, stored.Answered())

	msgs, err := env.store.ListMessages(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, pending.QuestionID, msgs[0].Metadata[models.MetaRespondingTo])
}

func TestCreateResponseLegacyPathTargetsLatestOpenQuestion(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)
	ctx := context.Background()

	older := &models.PendingQuestion{ProjectID: project.ID, Question: "name?", Step: 1}
	require.NoError(t, env.store.CreatePendingQuestion(ctx, older))
	newer := &models.PendingQuestion{ProjectID: project.ID, Question: "address?", Step: 2}
	require.NoError(t, env.store.CreatePendingQuestion(ctx, newer))

	rec := env.do(t, http.MethodPost, "/api/v1/responses", map[string]string{
		"projectId": project.ID,
		"answer":    "1 Main St",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := env.store.GetPendingQuestion(ctx, newer.QuestionID)
	require.NoError(t, err)
	assert.True(t, stored.Answered())

	untouched, err := env.store.GetPendingQuestion(ctx, older.QuestionID)
	require.NoError(t, err)
	assert.False(t, untouched.Answered())
}

func TestCreateResponseUnknownQuestion(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)

	rec := env.do(t, http.MethodPost, "/api/v1/responses", map[string]string{
		"projectId":  project.ID,
		"answer":     "hello",
		"questionId": "no-such-question",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	msgs, err := env.store.ListMessages(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateResponseNoOpenQuestion(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)

	rec := env.do(t, http.MethodPost, "/api/v1/responses", map[string]string{
		"projectId": project.ID,
		"answer":    "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegenerateFragment(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)
	ctx := context.Background()

	msg := &models.Message{
		ProjectID: project.ID,
		Role:      models.RoleAssistant,
		Type:      models.TypeResult,
		Content:   "done",
		Fragment: &models.Fragment{
			SandboxURL: "http://stale.test",
			Title:      "Landing Page",
			Files:      map[string]string{"app/page.tsx": "content"},
		},
	}
	require.NoError(t, env.store.CreateMessage(ctx, msg))

	rec := env.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/fragments/%s/regenerate", msg.Fragment.ID),
		map[string]string{"projectId": project.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := env.store.GetFragment(ctx, msg.Fragment.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "http://stale.test", updated.SandboxURL)
	assert.Equal(t, 1, env.prov.CreatedCount())

	rec = env.do(t, http.MethodPost, "/api/v1/fragments/missing/regenerate",
		map[string]string{"projectId": project.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegenerateFragmentOfOtherProject(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createProject(t)
	ctx := context.Background()

	msg := &models.Message{
		ProjectID: owner.ID,
		Role:      models.RoleAssistant,
		Type:      models.TypeResult,
		Content:   "done",
		Fragment: &models.Fragment{
			SandboxURL: "http://stale.test",
			Title:      "Landing Page",
			Files:      map[string]string{"app/page.tsx": "content"},
		},
	}
	require.NoError(t, env.store.CreateMessage(ctx, msg))

	rec := env.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Other", "userId": "u2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var other models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &other))

	rec = env.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/fragments/%s/regenerate", msg.Fragment.ID),
		map[string]string{"projectId": other.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code, "fragments are only addressable through their own project")

	untouched, err := env.store.GetFragment(ctx, msg.Fragment.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://stale.test", untouched.SandboxURL)
	assert.Zero(t, env.prov.CreatedCount(), "no sandbox is provisioned for a cross-project request")
}

func TestDebugEndpoints(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t)
	ctx := context.Background()

	pending := &models.PendingQuestion{ProjectID: project.ID, Question: "name?", Step: 1}
	require.NoError(t, env.store.CreatePendingQuestion(ctx, pending))

	rec := env.do(t, http.MethodGet, "/api/v1/debug/questions?projectId="+project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var questions []models.PendingQuestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &questions))
	require.Len(t, questions, 1)

	rec = env.do(t, http.MethodPost, "/api/v1/debug/respond", map[string]string{
		"questionId": pending.QuestionID,
		"answer":     "Acme",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.store.GetPendingQuestion(ctx, pending.QuestionID)
	require.NoError(t, err)
	assert.True(t, stored.Answered())
}
