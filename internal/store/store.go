package store

import (
	"context"
	"errors"
	"time"

	"github.com/appforge/pkg/models"
)

var ErrNotFound = errors.New("not found")

// Store is the durable conversation store shared by the API layer and the
// workflow coordinator. Messages are append-only; fragments are created once
// and only their sandbox URL may be updated afterwards.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)

	// CreateMessage persists a message; if msg.Fragment is set the fragment is
	// persisted in the same call and linked to the message.
	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns every message for a project ordered by update time
	// ascending, with fragments embedded.
	ListMessages(ctx context.Context, projectID string) ([]*models.Message, error)
	// GetMessage returns one message by ID, with its fragment embedded.
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// LatestMessages returns up to n most recent messages, newest first.
	LatestMessages(ctx context.Context, projectID string, n int) ([]*models.Message, error)
	// LatestQuestion returns the most recent assistant QUESTION message, or
	// ErrNotFound when the project has never asked one.
	LatestQuestion(ctx context.Context, projectID string) (*models.Message, error)
	// UserMessagesAfter returns USER messages created strictly after t.
	UserMessagesAfter(ctx context.Context, projectID string, t time.Time) ([]*models.Message, error)

	GetFragment(ctx context.Context, id string) (*models.Fragment, error)
	UpdateFragmentURL(ctx context.Context, id, sandboxURL string) error

	CreatePendingQuestion(ctx context.Context, q *models.PendingQuestion) error
	GetPendingQuestion(ctx context.Context, questionID string) (*models.PendingQuestion, error)
	// AnswerPendingQuestion records the answer for an open question. It is a
	// no-op returning ErrNotFound for unknown IDs and leaves already-answered
	// questions untouched.
	AnswerPendingQuestion(ctx context.Context, questionID, answer string) error
	// LatestOpenQuestion returns the newest unanswered pending question for a
	// project, or ErrNotFound.
	LatestOpenQuestion(ctx context.Context, projectID string) (*models.PendingQuestion, error)
	ListPendingQuestions(ctx context.Context, projectID string) ([]*models.PendingQuestion, error)

	// AcquireLease takes the per-project workflow lease. It returns false when
	// another owner holds a lease younger than staleAfter; older leases are
	// abandoned by a crashed process and may be taken over. Acquisition is a
	// compare-and-swap, not an advisory check.
	AcquireLease(ctx context.Context, projectID, owner string, staleAfter time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, projectID, owner string) error
}
