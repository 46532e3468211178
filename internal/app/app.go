package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"security-checker/handler"
	"security-checker/internal/config"
	"security-checker/internal/domain"
	"security-checker/internal/integrations/blobstore"
	"security-checker/internal/integrations/openai"
	"security-checker/internal/integrations/paramstore"
	"security-checker/internal/usecase"
)

// completionClient adapts the concrete OpenAI stream to the usecase interface.
type completionClient struct {
	client *openai.Client
}

func (c completionClient) Stream(ctx context.Context, model string, messages []domain.ChatMessage) (usecase.FragmentStream, error) {
	s, err := c.client.Stream(ctx, model, messages)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewHandler builds every client from cfg and registers the participant
// under its configured identifier.
func NewHandler(ctx context.Context, cfg config.Config, logger *slog.Logger) (*handler.Handler, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	s3Client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint := strings.TrimSpace(cfg.ChecklistEndpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	checklist, err := blobstore.New(s3Client)
	if err != nil {
		return nil, fmt.Errorf("app: create checklist client: %w", err)
	}

	llm, err := newCompletionClient(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	prompt, err := cfg.PromptTemplate()
	if err != nil {
		return nil, fmt.Errorf("app: prompt template: %w", err)
	}
	policy, err := usecase.ParseAssistantTurnPolicy(cfg.AssistantTurns)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	svc, err := usecase.NewChatService(checklist, completionClient{client: llm}, usecase.ServiceConfig{
		Checklist:      cfg.ChecklistLocation(),
		Model:          cfg.CompletionModel,
		Prompt:         prompt,
		AssistantTurns: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}

	router := handler.NewRouter()
	if err := router.Register(cfg.ParticipantID, svc); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	logger.Info("participant registered",
		"participant", cfg.ParticipantID,
		"checklist", cfg.ChecklistLocation().String(),
		"provider", cfg.CompletionProvider,
		"model", cfg.CompletionModel,
		"locale", cfg.PromptLocale,
		"assistant_turns", string(policy),
	)
	return handler.NewHandler(router, logger)
}

func newCompletionClient(cfg config.Config, awsCfg aws.Config) (*openai.Client, error) {
	opts := []openai.Option{openai.WithBaseURL(cfg.CompletionBaseURL)}
	if cfg.CompletionAPIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.CompletionAPIKey))
	}
	if cfg.CompletionProvider == openai.ProviderAzure {
		opts = append(opts, openai.WithAzure(cfg.CompletionAPIVersion))
	}

	var secrets openai.SecretGetter
	if cfg.CompletionAPIKey == "" {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		secrets = ps
	}

	client, err := openai.NewClient(secrets, cfg.ParamPrefix, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create completion client: %w", err)
	}
	return client, nil
}
