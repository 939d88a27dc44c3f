package bedrock

import "context"

// Client implements llm.Client on top of an InvokeModelAPI.
type Client struct {
	api  InvokeModelAPI
	opts []Option
}

// NewClient creates a client that applies opts to every call.
func NewClient(api InvokeModelAPI, opts ...Option) *Client {
	return &Client{api: api, opts: opts}
}

// Complete runs one invocation with the client's default options.
func (c *Client) Complete(ctx context.Context, prompt string) ([]string, error) {
	return Invoke(ctx, c.api, prompt, c.opts...)
}

// CompleteWith runs one invocation; extra options override the defaults.
func (c *Client) CompleteWith(ctx context.Context, prompt string, extra ...Option) (*Result, error) {
	opts := make([]Option, 0, len(c.opts)+len(extra))
	opts = append(opts, c.opts...)
	opts = append(opts, extra...)
	return InvokeDetailed(ctx, c.api, prompt, opts...)
}
