// Package channel defines the Channel interface for bedrockcall chat relays.
package channel

import (
	"context"

	"github.com/jxucoder/bedrockcall/pkg/model"
)

// Channel represents a chat transport that relays prompts (Slack, Telegram).
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner performs a single invocation on behalf of a channel.
type Runner interface {
	Run(ctx context.Context, source, prompt string) (*model.Invocation, error)
}
