package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/appforge/internal/agent"
	"github.com/appforge/internal/llm"
	"github.com/appforge/internal/prompts"
	"github.com/appforge/internal/sandbox"
	"github.com/appforge/internal/store"
	"github.com/appforge/pkg/models"
)

// seedMessageCount is how many prior conversation turns are replayed into the
// network as context.
const seedMessageCount = 5

const (
	fallbackTitle    = "Fragment"
	fallbackResponse = "Here you go"
	errorRunMessage  = "Something went wrong. Please try again."
)

// Coordinator executes one code-agent run end to end: lease, guards, sandbox
// reconciliation, network execution, finalization. It is driven by the River
// worker but holds no queue state itself, so tests exercise it directly.
type Coordinator struct {
	Store       store.Store
	Correlator  *Correlator
	Provisioner sandbox.Provisioner
	Connector   *llm.Connector

	// QuestionTimeout is passed to the ask tool; zero means the default.
	QuestionTimeout time.Duration
	// MaxIterations caps the network loop; zero means the default.
	MaxIterations int

	// Sandbox handles are process-local. After a restart the map is empty and
	// reconciliation rebuilds the sandbox from the latest fragment's files.
	mu         sync.Mutex
	sandboxIDs map[string]string
}

func NewCoordinator(st store.Store, corr *Correlator, prov sandbox.Provisioner, conn *llm.Connector) *Coordinator {
	return &Coordinator{
		Store:       st,
		Correlator:  corr,
		Provisioner: prov,
		Connector:   conn,
		sandboxIDs:  make(map[string]string),
	}
}

// Run processes one run request for a project. Skips (lease held, question
// outstanding) return nil so the queue does not retry them.
func (c *Coordinator) Run(ctx context.Context, projectID, value string) error {
	owner := uuid.NewString()
	acquired, err := c.Store.AcquireLease(ctx, projectID, owner, c.leaseStaleAfter())
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		log.Info().Str("project_id", projectID).Msg("run already in progress, skipping")
		return nil
	}
	defer func() {
		if err := c.Store.ReleaseLease(context.WithoutCancel(ctx), projectID, owner); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Msg("failed to release workflow lease")
		}
	}()

	awaiting, err := c.awaitingUserResponse(ctx, projectID)
	if err != nil {
		return err
	}
	if awaiting {
		log.Info().Str("project_id", projectID).Msg("open question outstanding, skipping run")
		return nil
	}

	files, err := c.latestFragmentFiles(ctx, projectID)
	if err != nil {
		return err
	}
	sb, err := sandbox.Reconcile(ctx, c.Provisioner, c.sandboxID(projectID), files)
	if err != nil {
		return fmt.Errorf("reconcile sandbox: %w", err)
	}
	c.setSandboxID(projectID, sb.ID())

	seed, err := c.seedHistory(ctx, projectID)
	if err != nil {
		return err
	}

	st := agent.NewState(projectID)
	for path, content := range files {
		st.SetFile(path, content)
	}

	network := c.buildNetwork(sb)
	result, err := network.Run(ctx, st, value, seed)
	if err != nil {
		return fmt.Errorf("network run: %w", err)
	}
	if result.Suspended {
		log.Info().
			Str("project_id", projectID).
			Int("iterations", result.Iterations).
			Msg("run suspended on open question")
		return nil
	}

	return c.finalize(ctx, st, sb)
}

// questionTimeout returns the effective ask timeout.
func (c *Coordinator) questionTimeout() time.Duration {
	if c.QuestionTimeout > 0 {
		return c.QuestionTimeout
	}
	return DefaultQuestionTimeout
}

// leaseStaleAfter is the age at which a held lease is presumed abandoned by a
// crashed process. It must exceed the job timeout, which itself exceeds the
// question timeout, so a live run blocked on a user answer is never stolen.
func (c *Coordinator) leaseStaleAfter() time.Duration {
	return c.questionTimeout() + 2*time.Hour
}

// awaitingUserResponse reports whether the project's latest agent question is
// still open: answered pending rows and any later user activity both clear
// the guard.
func (c *Coordinator) awaitingUserResponse(ctx context.Context, projectID string) (bool, error) {
	q, err := c.Store.LatestQuestion(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest question: %w", err)
	}

	if qid := q.Metadata[models.MetaQuestionID]; qid != "" {
		pending, err := c.Store.GetPendingQuestion(ctx, qid)
		if err == nil && pending.Answered() {
			return false, nil
		}
	}

	later, err := c.Store.UserMessagesAfter(ctx, projectID, q.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("user messages after question: %w", err)
	}
	return len(later) == 0, nil
}

// latestFragmentFiles returns the files of the newest fragment, or an empty
// map for projects with no generated artifact yet.
func (c *Coordinator) latestFragmentFiles(ctx context.Context, projectID string) (map[string]string, error) {
	msgs, err := c.Store.ListMessages(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Fragment != nil {
			return msgs[i].Fragment.Files, nil
		}
	}
	return map[string]string{}, nil
}

// seedHistory converts the most recent conversation turns into model
// messages, oldest first.
func (c *Coordinator) seedHistory(ctx context.Context, projectID string) ([]llms.MessageContent, error) {
	recent, err := c.Store.LatestMessages(ctx, projectID, seedMessageCount)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	seed := make([]llms.MessageContent, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		role := llms.ChatMessageTypeHuman
		if msg.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		seed = append(seed, llms.TextParts(role, msg.Content))
	}
	return seed, nil
}

func (c *Coordinator) buildNetwork(sb sandbox.Sandbox) *agent.Network {
	askTool := &AskUserQuestionTool{
		Store:      c.Store,
		Correlator: c.Correlator,
		Timeout:    c.QuestionTimeout,
	}

	gatherer := &agent.Agent{
		Name:        "business-info-gatherer",
		Description: "Collects the business details required before code generation",
		System:      prompts.BusinessInfoGatherer,
		Connector:   c.Connector,
		Tools:       []agent.Tool{askTool},
		OnResponse: func(st *agent.State, text string) {
			if info, ok := agent.ExtractBusinessInfo(text); ok {
				st.MergeBusinessInfo(info)
			}
		},
	}

	coder := &agent.Agent{
		Name:        "code-agent",
		Description: "Generates the application inside the sandbox",
		System:      prompts.CodeAgent,
		Connector:   c.Connector,
		Tools: []agent.Tool{
			&agent.TerminalTool{Sandbox: sb},
			&agent.CreateOrUpdateFilesTool{Sandbox: sb},
			&agent.ReadFilesTool{Sandbox: sb},
		},
		OnResponse: func(st *agent.State, text string) {
			if agent.HasTaskSummary(text) {
				st.SetSummary(text)
			}
		},
	}

	return &agent.Network{
		Gatherer:      gatherer,
		Coder:         coder,
		MaxIterations: c.MaxIterations,
	}
}

// finalize writes the run's terminal message: an ERROR when the network
// produced no summary or no files, otherwise a RESULT carrying the fragment.
func (c *Coordinator) finalize(ctx context.Context, st *agent.State, sb sandbox.Sandbox) error {
	summary := st.Summary()
	files := st.Files()

	if summary == "" || len(files) == 0 {
		log.Warn().
			Str("project_id", st.ProjectID()).
			Bool("has_summary", summary != "").
			Int("file_count", len(files)).
			Msg("run completed without a usable result")
		msg := &models.Message{
			ID:        uuid.NewString(),
			ProjectID: st.ProjectID(),
			Role:      models.RoleAssistant,
			Type:      models.TypeError,
			Content:   errorRunMessage,
		}
		if err := c.Store.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("persist error message: %w", err)
		}
		return nil
	}

	title := c.generate(ctx, prompts.FragmentTitle, summary, fallbackTitle)
	response := c.generate(ctx, prompts.Response, summary, fallbackResponse)

	msgID := uuid.NewString()
	msg := &models.Message{
		ID:        msgID,
		ProjectID: st.ProjectID(),
		Role:      models.RoleAssistant,
		Type:      models.TypeResult,
		Content:   response,
		Fragment: &models.Fragment{
			ID:         uuid.NewString(),
			MessageID:  msgID,
			SandboxURL: sb.URL(),
			Title:      title,
			Files:      files,
		},
	}
	if err := c.Store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist result message: %w", err)
	}

	log.Info().
		Str("project_id", st.ProjectID()).
		Str("title", title).
		Int("file_count", len(files)).
		Msg("run completed")
	return nil
}

// generate runs a single-shot generation, falling back to a static value when
// the model fails or returns nothing. Finalization never fails on a cosmetic
// generation.
func (c *Coordinator) generate(ctx context.Context, system, summary, fallback string) string {
	out, err := c.Connector.Complete(ctx, system+"\n\nTask summary:\n"+summary)
	if err != nil {
		log.Warn().Err(err).Msg("single-shot generation failed, using fallback")
		return fallback
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallback
	}
	return out
}

func (c *Coordinator) sandboxID(projectID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sandboxIDs[projectID]
}

func (c *Coordinator) setSandboxID(projectID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sandboxIDs[projectID] = id
}
