package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/appforge/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	return s.db.QueryRowContext(ctx, `
        INSERT INTO projects (user_id, name)
        VALUES ($1, $2)
        RETURNING id, created_at, updated_at
    `, p.UserID, p.Name).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, name, created_at, updated_at
        FROM projects WHERE id=$1
    `, id).Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	metaJSON, err := json.Marshal(ensureMapNotNil(msg.Metadata))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
        INSERT INTO messages (project_id, role, type, content, metadata)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at
    `, msg.ProjectID, string(msg.Role), string(msg.Type), msg.Content, metaJSON).
		Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return err
	}

	if msg.Fragment != nil {
		f := msg.Fragment
		filesJSON, err := json.Marshal(ensureMapNotNil(f.Files))
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
            INSERT INTO fragments (message_id, sandbox_url, title, files)
            VALUES ($1, $2, $3, $4)
            RETURNING id, created_at, updated_at
        `, msg.ID, f.SandboxURL, f.Title, filesJSON).
			Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return err
		}
		f.MessageID = msg.ID
	}

	return tx.Commit()
}

const messageColumns = `
    m.id, m.project_id, m.role, m.type, m.content, m.metadata, m.created_at, m.updated_at,
    f.id, f.sandbox_url, f.title, f.files, f.created_at, f.updated_at
`

func (s *PostgresStore) ListMessages(ctx context.Context, projectID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages m
        LEFT JOIN fragments f ON f.message_id = m.id
        WHERE m.project_id=$1
        ORDER BY m.updated_at ASC
    `, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages m
        LEFT JOIN fragments f ON f.message_id = m.id
        WHERE m.id=$1
    `, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *PostgresStore) LatestMessages(ctx context.Context, projectID string, n int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages m
        LEFT JOIN fragments f ON f.message_id = m.id
        WHERE m.project_id=$1
        ORDER BY m.created_at DESC
        LIMIT $2
    `, projectID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) LatestQuestion(ctx context.Context, projectID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages m
        LEFT JOIN fragments f ON f.message_id = m.id
        WHERE m.project_id=$1 AND m.role=$2 AND m.type=$3
        ORDER BY m.created_at DESC
        LIMIT 1
    `, projectID, string(models.RoleAssistant), string(models.TypeQuestion))
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *PostgresStore) UserMessagesAfter(ctx context.Context, projectID string, t time.Time) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages m
        LEFT JOIN fragments f ON f.message_id = m.id
        WHERE m.project_id=$1 AND m.role=$2 AND m.created_at > $3
        ORDER BY m.created_at ASC
    `, projectID, string(models.RoleUser), t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) GetFragment(ctx context.Context, id string) (*models.Fragment, error) {
	var f models.Fragment
	var filesJSON []byte
	err := s.db.QueryRowContext(ctx, `
        SELECT id, message_id, sandbox_url, title, files, created_at, updated_at
        FROM fragments WHERE id=$1
    `, id).Scan(&f.ID, &f.MessageID, &f.SandboxURL, &f.Title, &filesJSON, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &f.Files); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func (s *PostgresStore) UpdateFragmentURL(ctx context.Context, id, sandboxURL string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE fragments SET sandbox_url=$1, updated_at=now() WHERE id=$2
    `, sandboxURL, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePendingQuestion(ctx context.Context, q *models.PendingQuestion) error {
	if q.QuestionID == "" {
		return s.db.QueryRowContext(ctx, `
            INSERT INTO pending_questions (project_id, question, step)
            VALUES ($1, $2, $3)
            RETURNING question_id, created_at
        `, q.ProjectID, q.Question, q.Step).Scan(&q.QuestionID, &q.CreatedAt)
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO pending_questions (question_id, project_id, question, step)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at
    `, q.QuestionID, q.ProjectID, q.Question, q.Step).Scan(&q.CreatedAt)
}

func (s *PostgresStore) GetPendingQuestion(ctx context.Context, questionID string) (*models.PendingQuestion, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT question_id, project_id, question, step, answer, answered_at, created_at
        FROM pending_questions WHERE question_id=$1
    `, questionID)
	q, err := scanPendingQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func (s *PostgresStore) AnswerPendingQuestion(ctx context.Context, questionID, answer string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE pending_questions
        SET answer=$1, answered_at=now()
        WHERE question_id=$2 AND answered_at IS NULL
    `, answer, questionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish "unknown question" from "already answered".
		if _, getErr := s.GetPendingQuestion(ctx, questionID); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *PostgresStore) LatestOpenQuestion(ctx context.Context, projectID string) (*models.PendingQuestion, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT question_id, project_id, question, step, answer, answered_at, created_at
        FROM pending_questions
        WHERE project_id=$1 AND answered_at IS NULL
        ORDER BY created_at DESC
        LIMIT 1
    `, projectID)
	q, err := scanPendingQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func (s *PostgresStore) ListPendingQuestions(ctx context.Context, projectID string) ([]*models.PendingQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT question_id, project_id, question, step, answer, answered_at, created_at
        FROM pending_questions
        WHERE project_id=$1
        ORDER BY created_at ASC
    `, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.PendingQuestion, 0)
	for rows.Next() {
		q, err := scanPendingQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// AcquireLease is a compare-and-swap on the workflow_leases row: the insert
// succeeds only when no row exists, re-acquisition by the same owner is
// treated as success, and a row older than staleAfter belongs to a process
// that crashed without its deferred release, so it may be taken over.
func (s *PostgresStore) AcquireLease(ctx context.Context, projectID, owner string, staleAfter time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO workflow_leases (project_id, owner)
        VALUES ($1, $2)
        ON CONFLICT (project_id) DO UPDATE SET owner=EXCLUDED.owner, acquired_at=now()
        WHERE workflow_leases.owner=EXCLUDED.owner
           OR workflow_leases.acquired_at < now() - make_interval(secs => $3)
    `, projectID, owner, staleAfter.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, projectID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM workflow_leases WHERE project_id=$1 AND owner=$2
    `, projectID, owner)
	return err
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	out := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*models.Message, error) {
	var m models.Message
	var role, typ string
	var metaJSON []byte
	var fragID, fragURL, fragTitle sql.NullString
	var fragFiles []byte
	var fragCreated, fragUpdated sql.NullTime
	err := scanner.Scan(
		&m.ID, &m.ProjectID, &role, &typ, &m.Content, &metaJSON, &m.CreatedAt, &m.UpdatedAt,
		&fragID, &fragURL, &fragTitle, &fragFiles, &fragCreated, &fragUpdated,
	)
	if err != nil {
		return nil, err
	}
	m.Role = models.MessageRole(role)
	m.Type = models.MessageType(typ)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return nil, err
		}
	}
	if fragID.Valid {
		f := &models.Fragment{
			ID:         fragID.String,
			MessageID:  m.ID,
			SandboxURL: fragURL.String,
			Title:      fragTitle.String,
			CreatedAt:  fragCreated.Time,
			UpdatedAt:  fragUpdated.Time,
		}
		if len(fragFiles) > 0 {
			if err := json.Unmarshal(fragFiles, &f.Files); err != nil {
				return nil, err
			}
		}
		m.Fragment = f
	}
	return &m, nil
}

func scanPendingQuestion(scanner interface{ Scan(dest ...any) error }) (*models.PendingQuestion, error) {
	var q models.PendingQuestion
	var answer sql.NullString
	var answeredAt sql.NullTime
	err := scanner.Scan(&q.QuestionID, &q.ProjectID, &q.Question, &q.Step, &answer, &answeredAt, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	if answer.Valid {
		q.Answer = &answer.String
	}
	if answeredAt.Valid {
		q.AnsweredAt = &answeredAt.Time
	}
	return &q, nil
}

func ensureMapNotNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
