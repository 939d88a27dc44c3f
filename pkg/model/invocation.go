// Package model defines the records bedrockcall keeps about invocations.
package model

import "time"

// Status represents the current state of an invocation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Event types emitted while an invocation runs.
const (
	EventStatus = "status"
	EventOutput = "output"
	EventError  = "error"
	EventDone   = "done"
)

// Invocation is a single prompt sent to a model and what came back.
type Invocation struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // "cli", "api", "telegram", "slack", "job:<name>"
	Prompt    string    `json:"prompt"`
	ModelID   string    `json:"model_id,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Status    Status    `json:"status"`
	Texts     []string  `json:"texts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the invocation has reached a terminal status.
func (i *Invocation) Done() bool {
	return i.Status == StatusComplete || i.Status == StatusError
}

// Event represents a single event in an invocation's lifecycle.
type Event struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Type         string    `json:"type"`
	Data         string    `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
}

// Truncate shortens s to at most maxLen runes, ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
