package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/appforge/internal/credits"
	"github.com/appforge/internal/sandbox"
	"github.com/appforge/internal/store"
	"github.com/appforge/pkg/models"
)

// maxMessageLength bounds the user prompt size accepted by createMessage.
const maxMessageLength = 10000

// initialCredits is granted to a user with no balance when they create their
// first project.
const initialCredits = 50

const outOfCreditsMessage = "you have run out of credits"

type createProjectRequest struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

func (s *Server) createProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.UserID == "" {
		req.UserID = "local"
	}

	project := &models.Project{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Name:   req.Name,
	}
	ctx := c.Request().Context()
	if err := s.store.CreateProject(ctx, project); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create project")
	}

	remaining, err := s.credits.Remaining(ctx, req.UserID)
	if err == nil && remaining == 0 {
		if err := s.credits.Grant(ctx, req.UserID, initialCredits); err != nil {
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("failed to seed credits")
		}
	}

	return c.JSON(http.StatusCreated, project)
}

func (s *Server) listMessages(c echo.Context) error {
	projectID := c.Param("projectId")
	ctx := c.Request().Context()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load project")
	}

	messages, err := s.store.ListMessages(ctx, projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages")
	}
	return c.JSON(http.StatusOK, messages)
}

type createMessageRequest struct {
	ProjectID string `json:"projectId"`
	Value     string `json:"value"`
}

// createMessage persists the user's prompt and enqueues a run. The credit is
// consumed before anything is persisted so an out-of-quota request leaves no
// trace in the conversation.
func (s *Server) createMessage(c echo.Context) error {
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Value == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	if len(req.Value) > maxMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "value is too long")
	}

	ctx := c.Request().Context()
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load project")
	}

	if err := s.credits.Consume(ctx, project.UserID, 1); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			return echo.NewHTTPError(http.StatusTooManyRequests, outOfCreditsMessage)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to consume credits")
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Role:      models.RoleUser,
		Type:      models.TypeResult,
		Content:   req.Value,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist message")
	}

	if err := s.queue.EnqueueRun(ctx, project.ID, req.Value); err != nil {
		log.Error().Err(err).Str("project_id", project.ID).Msg("failed to enqueue run")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue run")
	}

	return c.JSON(http.StatusCreated, msg)
}

type createResponseRequest struct {
	ProjectID  string `json:"projectId"`
	Answer     string `json:"answer"`
	QuestionID string `json:"questionId"`
}

// createResponse records the user's answer to an agent question and resumes
// the waiting run. Without an explicit questionId it targets the project's
// latest open question.
func (s *Server) createResponse(c echo.Context) error {
	var req createResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Answer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "answer is required")
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetProject(ctx, req.ProjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load project")
	}

	questionID := req.QuestionID
	if questionID == "" {
		open, err := s.store.LatestOpenQuestion(ctx, req.ProjectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "no open question for project")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up question")
		}
		questionID = open.QuestionID
	} else if _, err := s.store.GetPendingQuestion(ctx, questionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "question not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up question")
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Role:      models.RoleUser,
		Type:      models.TypeResult,
		Content:   req.Answer,
		Metadata:  map[string]string{models.MetaRespondingTo: questionID},
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist response")
	}

	if err := s.correlator.Deliver(ctx, questionID, req.Answer); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "question not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to deliver response")
	}

	return c.JSON(http.StatusCreated, msg)
}

type regenerateFragmentRequest struct {
	ProjectID string `json:"projectId"`
}

// regenerateFragment provisions a fresh sandbox from a fragment's stored
// files and updates the preview URL. Replay is best effort.
func (s *Server) regenerateFragment(c echo.Context) error {
	fragmentID := c.Param("fragmentId")

	var req regenerateFragmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetProject(ctx, req.ProjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load project")
	}

	fragment, err := s.store.GetFragment(ctx, fragmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "fragment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load fragment")
	}

	// A fragment is addressable only through its own project.
	owner, err := s.store.GetMessage(ctx, fragment.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "fragment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load fragment")
	}
	if owner.ProjectID != req.ProjectID {
		return echo.NewHTTPError(http.StatusNotFound, "fragment not found")
	}

	sb, err := sandbox.Reconcile(ctx, s.provisioner, "", fragment.Files)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to provision sandbox")
	}
	if err := s.store.UpdateFragmentURL(ctx, fragment.ID, sb.URL()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update fragment")
	}

	fragment.SandboxURL = sb.URL()
	fragment.UpdatedAt = time.Now()
	return c.JSON(http.StatusOK, fragment)
}

func (s *Server) debugQuestions(c echo.Context) error {
	projectID := c.QueryParam("projectId")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId is required")
	}
	questions, err := s.store.ListPendingQuestions(c.Request().Context(), projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list questions")
	}
	return c.JSON(http.StatusOK, questions)
}

type debugRespondRequest struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// debugRespond delivers an answer directly to the correlator without writing
// a conversation message. Intended for operators poking at stuck runs.
func (s *Server) debugRespond(c echo.Context) error {
	var req debugRespondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.QuestionID == "" || req.Answer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "questionId and answer are required")
	}
	if err := s.correlator.Deliver(c.Request().Context(), req.QuestionID, req.Answer); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "question not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to deliver response")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "delivered"})
}
