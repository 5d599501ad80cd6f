package providers

import (
	"context"
	"strings"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

// Part is one element of a multimodal request: either text or an encoded image
type Part struct {
	Text  string
	Image *models.EncodedPart
}

// TextPart returns a text part
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart returns an image part
func ImagePart(img models.EncodedPart) Part {
	return Part{Image: &img}
}

// Config represents one request to an LLM provider. Parts are sent in order.
type Config struct {
	Model       string
	Temperature float64
	Parts       []Part
}

// Prompt joins the text parts, for providers that take a single prompt string
func (c Config) Prompt() string {
	var texts []string
	for _, p := range c.Parts {
		if p.Image == nil && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Images returns the image parts in order
func (c Config) Images() []models.EncodedPart {
	var images []models.EncodedPart
	for _, p := range c.Parts {
		if p.Image != nil {
			images = append(images, *p.Image)
		}
	}
	return images
}

// Provider defines the interface for a vision-capable LLM provider
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, config Config) (string, error)
}
