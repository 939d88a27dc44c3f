// Package bedrock builds Anthropic Messages requests for Amazon Bedrock and
// invokes them through the bedrockruntime SDK client.
//
// A single call is one blocking InvokeModel round trip:
//
//	api, err := bedrock.NewRuntimeClient(ctx, bedrock.RuntimeConfig{})
//	texts, err := bedrock.Invoke(ctx, api, "Say hi.")
//
// The client handle is always passed in by the caller.
package bedrock

import (
	"errors"
	"fmt"
)

const (
	// AnthropicVersion is the fixed version tag Bedrock expects for the
	// Anthropic Messages body.
	AnthropicVersion = "bedrock-2023-05-31"

	// DefaultMaxTokens is the token budget used when none is given.
	DefaultMaxTokens = 2000

	// DefaultModelID is the hosted model used when none is given.
	DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

	// RoleUser is the only role this package sends.
	RoleUser = "user"

	humanPrefix = "Human: "
)

// ErrInvalidArgument is returned when a request cannot be built from the
// given prompt and options.
var ErrInvalidArgument = errors.New("invalid argument")

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the JSON body sent to InvokeModel.
type Request struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []Message `json:"messages"`
}

// Option customizes a request or an invocation.
type Option func(*options)

type options struct {
	maxTokens   int
	modelID     string
	humanPrefix bool
}

func defaultOptions() options {
	return options{
		maxTokens: DefaultMaxTokens,
		modelID:   DefaultModelID,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithMaxTokens sets the token budget. It must be positive.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithModel selects the model identifier used by Invoke. An empty id keeps
// the default.
func WithModel(id string) Option {
	return func(o *options) {
		if id != "" {
			o.modelID = id
		}
	}
}

// WithHumanPrefix prepends "Human: " to the prompt, the way older Claude
// prompt formats expected it.
func WithHumanPrefix() Option {
	return func(o *options) { o.humanPrefix = true }
}

// NewRequest builds the request envelope for prompt. The token budget
// defaults to DefaultMaxTokens.
func NewRequest(prompt string, opts ...Option) (*Request, error) {
	return buildRequest(prompt, applyOptions(opts))
}

func buildRequest(prompt string, o options) (*Request, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", ErrInvalidArgument)
	}
	if o.maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidArgument, o.maxTokens)
	}

	content := prompt
	if o.humanPrefix {
		content = humanPrefix + prompt
	}

	return &Request{
		AnthropicVersion: AnthropicVersion,
		MaxTokens:        o.maxTokens,
		Messages: []Message{
			{Role: RoleUser, Content: content},
		},
	}, nil
}
