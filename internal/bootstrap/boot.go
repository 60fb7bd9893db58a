// Package bootstrap builds the daemon's collaborators from configuration:
// AWS clients, the content repository and uploader, and the completion
// provider.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/completion"
	"github.com/lannapoly/tiewson-kiosk/internal/config"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/objectstore"
)

// AWSClients holds the AWS config and the clients built from it.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config (environment, shared profile or
// instance role).
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{Config: cfg, SSM: ssm.NewFromConfig(cfg)}, nil
}

// Repository returns the configured content backend.
func Repository(cfg *config.Config, clients *AWSClients) (content.Repository, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("Using the in-memory content store; items are lost on restart")
		return content.NewMemoryRepository(), nil
	case config.StoreDynamo:
		if clients == nil {
			return nil, fmt.Errorf("dynamo store requires AWS clients")
		}
		return content.NewDynamoRepository(dynamodb.NewFromConfig(clients.Config), cfg.ContentTable), nil
	}
	return nil, fmt.Errorf("unknown content store %q", cfg.Store)
}

// Uploader returns the S3 uploader, or nil when no bucket is configured
// (the admin screen then accepts media links only).
func Uploader(cfg *config.Config, clients *AWSClients) content.Uploader {
	if cfg.MediaBucket == "" || clients == nil {
		log.Info().Msg("KIOSK_MEDIA_BUCKET not set; direct uploads disabled")
		return nil
	}
	return objectstore.NewS3Uploader(s3.NewFromConfig(clients.Config), cfg.MediaBucket, clients.Config.Region, cfg.MediaPublicBaseURL)
}

// parameterAPI is the subset of *ssm.Client used to read secrets.
type parameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey returns the configured Gemini API key, reading it from SSM
// Parameter Store when GEMINI_API_KEY is unset.
func LoadGeminiKey(ctx context.Context, cfg *config.Config, client parameterAPI) (string, error) {
	if cfg.GeminiAPIKey != "" {
		log.Debug().Msg("Using Gemini API key from environment variable")
		return cfg.GeminiAPIKey, nil
	}
	if client == nil || cfg.SSMAPIKeyParam == "" {
		return "", fmt.Errorf("gemini API key not found: set GEMINI_API_KEY or KIOSK_SSM_API_KEY_PARAM")
	}

	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(cfg.SSMAPIKeyParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read API key from SSM %s: %w", cfg.SSMAPIKeyParam, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", cfg.SSMAPIKeyParam)
	}
	log.Debug().Str("param", cfg.SSMAPIKeyParam).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return aws.ToString(out.Parameter.Value), nil
}

// Completer builds the configured completion provider wrapped in a
// circuit breaker. It returns nil for the "none" provider, in which case
// the assistant always answers from its canned fallback.
func Completer(ctx context.Context, cfg *config.Config, params parameterAPI) (completion.Completer, error) {
	var (
		next completion.Completer
		err  error
	)
	switch cfg.Provider {
	case config.ProviderNone:
		log.Warn().Msg("Completion provider disabled; assistant answers from canned replies")
		return nil, nil
	case config.ProviderOpenAI:
		next, err = completion.NewOpenAI(completion.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			MaxRetries: 1,
		})
	default:
		var key string
		key, err = LoadGeminiKey(ctx, cfg, params)
		if err == nil {
			next, err = completion.NewGemini(ctx, completion.GeminiConfig{APIKey: key, Model: cfg.GeminiModel})
		}
	}
	if err != nil {
		return nil, err
	}
	return completion.NewBreaker(cfg.Provider, next, completion.DefaultBreakerSettings), nil
}
