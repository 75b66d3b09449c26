// Package agent implements the agent network: shared run state, the routing
// policy, the tool abstraction, and the loop that drives LLM agents with
// tool-calling until the network completes or suspends.
package agent

import (
	"sync"

	"github.com/appforge/pkg/models"
)

// State is the shared mutable blob for one network run. It is owned by a
// single workflow execution; tool handlers and response hooks are the only
// writers. Durability comes from the message store, not from this struct.
type State struct {
	mu sync.RWMutex

	projectID    string
	businessInfo models.BusinessInfo
	files        map[string]string
	summary      string

	waitingForUserResponse bool
	currentQuestion        string
	askedQuestions         []string
	responses              map[string]string
	currentStep            int
}

// Snapshot is an immutable view of the routing-relevant state. The router is
// a pure function of a Snapshot.
type Snapshot struct {
	BusinessInfo           models.BusinessInfo
	Summary                string
	WaitingForUserResponse bool
}

func NewState(projectID string) *State {
	return &State{
		projectID: projectID,
		files:     make(map[string]string),
		responses: make(map[string]string),
	}
}

func (s *State) ProjectID() string {
	return s.projectID
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		BusinessInfo:           s.businessInfo,
		Summary:                s.summary,
		WaitingForUserResponse: s.waitingForUserResponse,
	}
}

func (s *State) BusinessInfo() models.BusinessInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.businessInfo
}

// MergeBusinessInfo overlays non-empty fields onto the collected info.
func (s *State) MergeBusinessInfo(info models.BusinessInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businessInfo = s.businessInfo.Merge(info)
}

// SetBusinessInfo replaces the collected info wholesale.
func (s *State) SetBusinessInfo(info models.BusinessInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businessInfo = info
}

func (s *State) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

func (s *State) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
}

// Files returns a copy of the accumulated path to content mapping.
func (s *State) Files() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}

func (s *State) SetFile(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
}

func (s *State) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

func (s *State) WaitingForUserResponse() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitingForUserResponse
}

// BeginQuestion marks the run as waiting on the given question and returns
// the step number assigned to it. The question is recorded in askedQuestions
// exactly once.
func (s *State) BeginQuestion(question string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingForUserResponse = true
	s.currentQuestion = question
	if !containsString(s.askedQuestions, question) {
		s.askedQuestions = append(s.askedQuestions, question)
	}
	s.currentStep++
	return s.currentStep
}

// ResolveQuestion clears the waiting gate and, when answered is true, caches
// the answer under the question text.
func (s *State) ResolveQuestion(question, answer string, answered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingForUserResponse = false
	s.currentQuestion = ""
	if answered {
		s.responses[question] = answer
	}
}

// CachedAnswer returns the stored answer for a question, if any.
func (s *State) CachedAnswer(question string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answer, ok := s.responses[question]
	return answer, ok
}

// AlreadyAsked reports whether the question was asked earlier in this run.
func (s *State) AlreadyAsked(question string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsString(s.askedQuestions, question)
}

func (s *State) AskedQuestions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.askedQuestions...)
}

func (s *State) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
