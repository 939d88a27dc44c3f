// Package llm defines the LLM client interface for bedrockcall.
package llm

import "context"

// Client is a minimal interface for making LLM API calls.
// Implementations return the text fragments of a single completion in
// reply order.
type Client interface {
	Complete(ctx context.Context, prompt string) ([]string, error)
}
