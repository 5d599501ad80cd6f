// Package gateway sends encoded images and prompts to the configured vision
// model. Captioning failures are returned to the caller; diff-instruction
// failures are replaced with FallbackInstructions and never returned.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lehigh-university-libraries/instructgen/internal/config"
	"github.com/lehigh-university-libraries/instructgen/internal/gemini"
	"github.com/lehigh-university-libraries/instructgen/internal/media"
	"github.com/lehigh-university-libraries/instructgen/internal/models"
	"github.com/lehigh-university-libraries/instructgen/internal/ollama"
	"github.com/lehigh-university-libraries/instructgen/internal/openai"
	"github.com/lehigh-university-libraries/instructgen/internal/prompts"
	"github.com/lehigh-university-libraries/instructgen/internal/providers"
)

const (
	// FallbackInstructions is returned for an edition whose diff call failed.
	FallbackInstructions = "Failed to generate instructions for this edition."

	NoDescription  = "No description generated."
	NoInstructions = "No instructions generated."
)

// ServiceError wraps a failed model call
type ServiceError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("model service error (%s/%s): %v", e.Provider, e.Model, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Options tune every request made by a Gateway
type Options struct {
	Model       string
	Temperature float64

	// Timeout bounds each call. Zero leaves it to the transport.
	Timeout time.Duration

	// RateInterval spaces out diff-instruction calls. Zero disables pacing.
	RateInterval time.Duration
}

type Gateway struct {
	provider providers.Provider
	opts     Options
	limiter  *rate.Limiter
}

// New returns a Gateway over provider
func New(provider providers.Provider, opts Options) *Gateway {
	g := &Gateway{
		provider: provider,
		opts:     opts,
	}
	if opts.RateInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(opts.RateInterval), 1)
	}
	return g
}

// NewFromConfig picks the provider named in cfg
func NewFromConfig(cfg *config.Config) (*Gateway, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return New(provider, Options{
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		Timeout:      cfg.RequestTimeout,
		RateInterval: cfg.RateInterval,
	}), nil
}

// NewProvider builds the provider named in cfg
func NewProvider(cfg *config.Config) (providers.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.New(cfg.GeminiAPIKey), nil
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey), nil
	case config.ProviderOllama:
		return ollama.New(cfg.OllamaURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Provider returns the name of the underlying provider
func (g *Gateway) Provider() string {
	return g.provider.Name()
}

// Model returns the configured model name
func (g *Gateway) Model() string {
	return g.opts.Model
}

// GenerateCaption describes the original image. Encoding errors and service
// errors are both returned; service errors as *ServiceError.
func (g *Gateway) GenerateCaption(ctx context.Context, original models.UploadedImage) (string, error) {
	part, err := media.Encode(original)
	if err != nil {
		return "", err
	}

	text, err := g.generate(ctx, []providers.Part{
		providers.ImagePart(part),
		providers.TextPart(prompts.Caption()),
	})
	if err != nil {
		slog.Error("Error analyzing original image", "provider", g.provider.Name(), "model", g.opts.Model, "error", err)
		return "", &ServiceError{Provider: g.provider.Name(), Model: g.opts.Model, Err: err}
	}

	if strings.TrimSpace(text) == "" {
		return NoDescription, nil
	}
	return text, nil
}

// GenerateDiffInstructions returns imperative edit instructions that turn
// original into edition. position is the edition's 1-based position. Any
// failure yields FallbackInstructions.
func (g *Gateway) GenerateDiffInstructions(ctx context.Context, original, edition models.UploadedImage, position int) string {
	originalPart, err := media.Encode(original)
	if err != nil {
		slog.Warn("Failed to encode original image", "edition", position, "error", err)
		return FallbackInstructions
	}
	editionPart, err := media.Encode(edition)
	if err != nil {
		slog.Warn("Failed to encode edition image", "edition", position, "error", err)
		return FallbackInstructions
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			slog.Warn("Edition request not sent", "edition", position, "error", err)
			return FallbackInstructions
		}
	}

	text, err := g.generate(ctx, []providers.Part{
		providers.ImagePart(originalPart),
		providers.TextPart(prompts.OriginalImageLabel),
		providers.ImagePart(editionPart),
		providers.TextPart(prompts.EditionImageLabel(position)),
		providers.TextPart(prompts.DiffInstructions(position)),
	})
	if err != nil {
		slog.Warn("Error analyzing edition", "edition", position, "provider", g.provider.Name(), "error", err)
		return FallbackInstructions
	}

	if strings.TrimSpace(text) == "" {
		return NoInstructions
	}
	return text
}

func (g *Gateway) generate(ctx context.Context, parts []providers.Part) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.provider.GenerateText(ctx, providers.Config{
		Model:       g.opts.Model,
		Temperature: g.opts.Temperature,
		Parts:       parts,
	})
	slog.Debug("Model call finished", "provider", g.provider.Name(), "model", g.opts.Model, "duration", time.Since(start), "ok", err == nil)
	return text, err
}
