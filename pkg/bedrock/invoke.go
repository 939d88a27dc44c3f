package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const contentTypeJSON = "application/json"

// InvokeModelAPI is the part of *bedrockruntime.Client this package uses.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Invoke sends prompt to the model in a single InvokeModel call and returns
// the text of each content block in reply order.
//
// Errors returned by api are passed through unchanged. A reply without
// content yields an empty slice and no error.
func Invoke(ctx context.Context, api InvokeModelAPI, prompt string, opts ...Option) ([]string, error) {
	res, err := InvokeDetailed(ctx, api, prompt, opts...)
	if err != nil {
		return nil, err
	}
	return res.Texts, nil
}

// InvokeDetailed is Invoke but also returns the reply metadata.
func InvokeDetailed(ctx context.Context, api InvokeModelAPI, prompt string, opts ...Option) (*Result, error) {
	o := applyOptions(opts)

	req, err := buildRequest(prompt, o)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	out, err := api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(o.modelID),
		Body:        body,
		ContentType: aws.String(contentTypeJSON),
		Accept:      aws.String(contentTypeJSON),
	})
	if err != nil {
		return nil, err
	}

	resp, err := DecodeResponse(out.Body)
	if err != nil {
		return nil, err
	}

	return &Result{
		ModelID:    o.modelID,
		Texts:      resp.Texts(),
		ID:         resp.ID,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}, nil
}

// DecodeResponse parses an InvokeModel body.
func DecodeResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}
