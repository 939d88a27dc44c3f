package bedrock

// ContentBlock is one unit of the model's reply.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage reports token accounting for a reply.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the decoded InvokeModel body. Only Content is required.
type Response struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type,omitempty"`
	Role       string         `json:"role,omitempty"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
}

// Texts returns the text of every content block in reply order. The result
// is never nil.
func (r *Response) Texts() []string {
	texts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		texts = append(texts, block.Text)
	}
	return texts
}

// Result summarizes one invocation: the model that served it and its reply.
type Result struct {
	ModelID    string
	Texts      []string
	ID         string
	StopReason string
	Usage      Usage
}
