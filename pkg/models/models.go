package models

import (
	"time"
)

// MessageRole identifies which side of the conversation authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
)

// MessageType classifies a conversation turn.
//
// QUESTION is the canonical type for agent clarifying questions. The
// AGENT_QUESTION variant that existed in an earlier event handler has been
// folded into QUESTION; the unanswered-question check only considers QUESTION.
type MessageType string

const (
	TypeResult   MessageType = "RESULT"
	TypeQuestion MessageType = "QUESTION"
	TypeError    MessageType = "ERROR"
)

// Metadata keys carried on messages for question/response correlation.
const (
	MetaQuestionID   = "questionId"
	MetaRespondingTo = "respondingTo"
	MetaStep         = "step"
)

// Project owns a single conversation. Projects are created by user action and
// never deleted by this subsystem.
type Project struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one turn in a project's conversation. Messages are append-only
// and ordered by creation time within a project.
type Message struct {
	ID        string            `json:"id" db:"id"`
	ProjectID string            `json:"project_id" db:"project_id"`
	Role      MessageRole       `json:"role" db:"role"`
	Type      MessageType       `json:"type" db:"type"`
	Content   string            `json:"content" db:"content"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	Fragment  *Fragment         `json:"fragment,omitempty"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// Fragment is a generated artifact snapshot owned 1:1 by a RESULT message.
// Only SandboxURL may change after creation (sandbox regeneration).
type Fragment struct {
	ID         string            `json:"id" db:"id"`
	MessageID  string            `json:"message_id" db:"message_id"`
	SandboxURL string            `json:"sandbox_url" db:"sandbox_url"`
	Title      string            `json:"title" db:"title"`
	Files      map[string]string `json:"files" db:"files"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// PendingQuestion is the persisted "awaiting correlation-id X" record for an
// outstanding agent question. The response delivery handler resolves waits by
// looking these up by QuestionID.
type PendingQuestion struct {
	QuestionID string     `json:"question_id" db:"question_id"`
	ProjectID  string     `json:"project_id" db:"project_id"`
	Question   string     `json:"question" db:"question"`
	Step       int        `json:"step" db:"step"`
	Answer     *string    `json:"answer,omitempty" db:"answer"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Answered reports whether a response has been recorded for this question.
func (q *PendingQuestion) Answered() bool {
	return q != nil && q.AnsweredAt != nil
}

// BusinessInfo holds the six fields the gatherer agent must collect before
// code generation may start. All fields are required non-empty.
type BusinessInfo struct {
	Name        string `json:"businessName"`
	Description string `json:"businessDescription"`
	Industry    string `json:"businessIndustry"`
	SubIndustry string `json:"businessSubIndustry"`
	Address     string `json:"businessAddress"`
	ContactInfo string `json:"businessContactInfo"`
}

// Complete reports whether every required field is non-empty.
func (b BusinessInfo) Complete() bool {
	return b.Name != "" &&
		b.Description != "" &&
		b.Industry != "" &&
		b.SubIndustry != "" &&
		b.Address != "" &&
		b.ContactInfo != ""
}

// Merge overlays non-empty fields from other onto b.
func (b BusinessInfo) Merge(other BusinessInfo) BusinessInfo {
	if other.Name != "" {
		b.Name = other.Name
	}
	if other.Description != "" {
		b.Description = other.Description
	}
	if other.Industry != "" {
		b.Industry = other.Industry
	}
	if other.SubIndustry != "" {
		b.SubIndustry = other.SubIndustry
	}
	if other.Address != "" {
		b.Address = other.Address
	}
	if other.ContactInfo != "" {
		b.ContactInfo = other.ContactInfo
	}
	return b
}
