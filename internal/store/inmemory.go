package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appforge/pkg/models"
)

// InMemoryStore is a threadsafe in-memory store for tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]*models.Project
	messages  map[string][]*models.Message // keyed by project ID, append order
	fragments map[string]*models.Fragment
	fragByMsg map[string]string // message ID -> fragment ID
	pending   map[string]*models.PendingQuestion
	leases    map[string]lease // keyed by project ID
	now       func() time.Time
	seq       int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		projects:  make(map[string]*models.Project),
		messages:  make(map[string][]*models.Message),
		fragments: make(map[string]*models.Fragment),
		fragByMsg: make(map[string]string),
		pending:   make(map[string]*models.PendingQuestion),
		leases:    make(map[string]lease),
		now:       time.Now,
	}
}

// SetClock overrides the store clock, for tests that need deterministic
// timestamps.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) tick() time.Time {
	// Monotonic offset so two messages created in the same wall-clock instant
	// still order deterministically.
	s.seq++
	return s.now().Add(time.Duration(s.seq) * time.Microsecond)
}

func (s *InMemoryStore) CreateProject(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *InMemoryStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProject(p), nil
}

func (s *InMemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.tick()
	msg.UpdatedAt = msg.CreatedAt
	if msg.Fragment != nil {
		f := msg.Fragment
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.MessageID = msg.ID
		f.CreatedAt = msg.CreatedAt
		f.UpdatedAt = msg.CreatedAt
		s.fragments[f.ID] = cloneFragment(f)
		s.fragByMsg[msg.ID] = f.ID
	}
	stored := cloneMessage(msg)
	stored.Fragment = nil // fragments live in their own map and are attached on read
	s.messages[msg.ProjectID] = append(s.messages[msg.ProjectID], stored)
	return nil
}

func (s *InMemoryStore) attachFragment(m *models.Message) *models.Message {
	if fid, ok := s.fragByMsg[m.ID]; ok {
		m.Fragment = cloneFragment(s.fragments[fid])
	}
	return m
}

func (s *InMemoryStore) ListMessages(ctx context.Context, projectID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[projectID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.attachFragment(cloneMessage(m)))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == id {
				return s.attachFragment(cloneMessage(m)), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) LatestMessages(ctx context.Context, projectID string, n int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[projectID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *InMemoryStore) LatestQuestion(ctx context.Context, projectID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Message
	for _, m := range s.messages[projectID] {
		if m.Role != models.RoleAssistant || m.Type != models.TypeQuestion {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneMessage(latest), nil
}

func (s *InMemoryStore) UserMessagesAfter(ctx context.Context, projectID string, t time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, 0)
	for _, m := range s.messages[projectID] {
		if m.Role == models.RoleUser && m.CreatedAt.After(t) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) GetFragment(ctx context.Context, id string) (*models.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fragments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFragment(f), nil
}

func (s *InMemoryStore) UpdateFragmentURL(ctx context.Context, id, sandboxURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fragments[id]
	if !ok {
		return ErrNotFound
	}
	f.SandboxURL = sandboxURL
	f.UpdatedAt = s.tick()
	return nil
}

func (s *InMemoryStore) CreatePendingQuestion(ctx context.Context, q *models.PendingQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.QuestionID == "" {
		q.QuestionID = uuid.NewString()
	}
	q.CreatedAt = s.tick()
	s.pending[q.QuestionID] = clonePending(q)
	return nil
}

func (s *InMemoryStore) GetPendingQuestion(ctx context.Context, questionID string) (*models.PendingQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.pending[questionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePending(q), nil
}

func (s *InMemoryStore) AnswerPendingQuestion(ctx context.Context, questionID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.pending[questionID]
	if !ok {
		return ErrNotFound
	}
	if q.Answered() {
		return nil
	}
	now := s.tick()
	q.Answer = &answer
	q.AnsweredAt = &now
	return nil
}

func (s *InMemoryStore) LatestOpenQuestion(ctx context.Context, projectID string) (*models.PendingQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.PendingQuestion
	for _, q := range s.pending {
		if q.ProjectID != projectID || q.Answered() {
			continue
		}
		if latest == nil || q.CreatedAt.After(latest.CreatedAt) {
			latest = q
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return clonePending(latest), nil
}

func (s *InMemoryStore) ListPendingQuestions(ctx context.Context, projectID string) ([]*models.PendingQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PendingQuestion, 0)
	for _, q := range s.pending {
		if q.ProjectID == projectID {
			out = append(out, clonePending(q))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type lease struct {
	owner      string
	acquiredAt time.Time
}

func (s *InMemoryStore) AcquireLease(ctx context.Context, projectID, owner string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, held := s.leases[projectID]; held && l.owner != owner && now.Sub(l.acquiredAt) < staleAfter {
		return false, nil
	}
	s.leases[projectID] = lease{owner: owner, acquiredAt: now}
	return true, nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, projectID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[projectID].owner == owner {
		delete(s.leases, projectID)
	}
	return nil
}

func cloneProject(p *models.Project) *models.Project {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func cloneMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Fragment = cloneFragment(m.Fragment)
	return &cp
}

func cloneFragment(f *models.Fragment) *models.Fragment {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Files != nil {
		cp.Files = make(map[string]string, len(f.Files))
		for k, v := range f.Files {
			cp.Files[k] = v
		}
	}
	return &cp
}

func clonePending(q *models.PendingQuestion) *models.PendingQuestion {
	if q == nil {
		return nil
	}
	cp := *q
	if q.Answer != nil {
		a := *q.Answer
		cp.Answer = &a
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		cp.AnsweredAt = &t
	}
	return &cp
}
