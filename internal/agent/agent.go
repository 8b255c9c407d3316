// Package agent holds the work capability the task manager drives.
package agent

import (
	"context"
	"iter"
)

// Result is one step of agent output
type Result struct {
	IsTaskComplete   bool   `json:"is_task_complete"`
	RequireUserInput bool   `json:"require_user_input"`
	Content          string `json:"content"`
}

// Capability answers a text query within a conversational session
type Capability interface {
	// Invoke runs the query to completion
	Invoke(ctx context.Context, query, sessionID string) (Result, error)
	// Stream yields progress updates then the final result. A non-nil error ends the sequence.
	Stream(ctx context.Context, query, sessionID string) iter.Seq2[Result, error]
	// SupportedContentTypes lists the output modes the capability produces
	SupportedContentTypes() []string
}
