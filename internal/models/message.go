package models

import "time"

// Message is a single entry of a conversation. Messages are appended in order and never edited once
// appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Error marks an inline assistant-style notice reporting a failed turn. Such messages are shown
	// to the user but never sent back to the backend as history.
	Error bool `json:"error,omitempty"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a reply streamed by the assistant.
	RoleAssistant Role = "assistant"
)

// ChatMessage is the history entry sent to the chat stream endpoint.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of the chat stream endpoint. ResumeID is zero when no resume exists yet.
type ChatRequest struct {
	JobID          int64         `json:"job_id"`
	ResumeID       int64         `json:"resume_id"`
	Messages       []ChatMessage `json:"messages"`
	UserBackground string        `json:"user_background,omitempty"`
}

// History converts messages into the history sent to the backend, leaving out error notices.
func History(messages []Message) []ChatMessage {
	history := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Error {
			continue
		}
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			continue
		}
		history = append(history, ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return history
}
