package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// RuntimeConfig overrides parts of the SDK's default configuration chain.
// Zero values leave the SDK defaults (environment, shared config, IMDS) in
// charge.
type RuntimeConfig struct {
	Region  string
	Profile string
}

// NewRuntimeClient loads the AWS configuration and creates a Bedrock
// runtime client. Credentials are resolved entirely by the SDK.
func NewRuntimeClient(ctx context.Context, rc RuntimeConfig) (*bedrockruntime.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if rc.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(rc.Region))
	}
	if rc.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(rc.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}
