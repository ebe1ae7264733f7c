package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/raphaelgruber/strand/internal/config"
)

// maxReplyTokens caps drafted replies; auto-replies are short by nature.
const maxReplyTokens = 512

// bedrockClient talks to the Amazon Bedrock Converse API with the AWS
// SDK. langchaingo's bedrock support lags the Converse API, so this
// path uses the SDK directly.
type bedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

func newBedrockClient(cfg config.Config) (*bedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &bedrockClient{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.LLMModel,
	}, nil
}

// tokenUsage carries prompt and completion token counts for providers
// that report them.
type tokenUsage struct {
	input  int64
	output int64
}

func (b *bedrockClient) converse(ctx context.Context, systemPrompt, userPrompt string) (string, tokenUsage, error) {
	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: userPrompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(maxReplyTokens),
		},
	})
	if err != nil {
		return "", tokenUsage{}, fmt.Errorf("bedrock converse: %w", err)
	}

	var usage tokenUsage
	if out.Usage != nil {
		usage.input = int64(aws.ToInt32(out.Usage.InputTokens))
		usage.output = int64(aws.ToInt32(out.Usage.OutputTokens))
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", usage, fmt.Errorf("bedrock converse: unexpected output type %T", out.Output)
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			return text.Value, usage, nil
		}
	}
	return "", usage, fmt.Errorf("bedrock converse: no text content in reply")
}
