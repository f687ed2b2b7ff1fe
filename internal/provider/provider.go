// Package provider contains the image generation providers and the fallback
// orchestrator that tries them in preference order until one succeeds.
package provider

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Generation request bounds, enforced before any provider is invoked.
const (
	MaxPromptLength = 2000
	MinDimension    = 64
	MaxDimension    = 2048
	MaxImageCount   = 4
)

// GenerationRequest describes one image generation call.
type GenerationRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Count  int    `json:"count"`
}

// WithDefaults fills unset dimensions and count.
func (r GenerationRequest) WithDefaults() GenerationRequest {
	if r.Width == 0 {
		r.Width = 1024
	}
	if r.Height == 0 {
		r.Height = 1024
	}
	if r.Count == 0 {
		r.Count = 1
	}
	return r
}

// Validate rejects malformed requests before any provider call.
func (r GenerationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompt, validation.Required, validation.Length(1, MaxPromptLength)),
		validation.Field(&r.Width, validation.Min(MinDimension), validation.Max(MaxDimension)),
		validation.Field(&r.Height, validation.Min(MinDimension), validation.Max(MaxDimension)),
		validation.Field(&r.Count, validation.Min(1), validation.Max(MaxImageCount)),
	)
}

// Image is one generated image descriptor.
type Image struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// GenerationResult is a successful generation, attributed to its provider.
type GenerationResult struct {
	Provider string  `json:"provider"`
	Images   []Image `json:"images"`
}

// ImageProvider is one interchangeable generation backend.
type ImageProvider interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	CheckStatus(ctx context.Context) error
}
