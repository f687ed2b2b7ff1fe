package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ProviderError is one provider's failure inside a fallback chain.
type ProviderError struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

// FallbackError aggregates every provider's failure when the whole chain is
// exhausted.
type FallbackError struct {
	Attempts []ProviderError
}

func (e *FallbackError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Message))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Orchestrator tries providers in configured order, returning the first
// success with the errors of every provider tried before it.
type Orchestrator struct {
	providers []ImageProvider
	logger    *zap.Logger
}

func NewOrchestrator(logger *zap.Logger, providers ...ImageProvider) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		logger:    logger,
	}
}

// Providers returns the configured provider names in preference order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate validates the request, then walks the provider chain. Per-provider
// errors are retained so a success still reports what was skipped over.
func (o *Orchestrator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, []ProviderError, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid generation request: %w", err)
	}

	if len(o.providers) == 0 {
		return nil, nil, fmt.Errorf("no image providers configured")
	}

	var attempts []ProviderError
	for _, p := range o.providers {
		result, err := p.Generate(ctx, req)
		if err != nil {
			o.logger.Warn("Image provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err))
			attempts = append(attempts, ProviderError{Provider: p.Name(), Message: err.Error()})
			continue
		}
		if result == nil || len(result.Images) == 0 {
			attempts = append(attempts, ProviderError{Provider: p.Name(), Message: "provider returned no images"})
			continue
		}

		result.Provider = p.Name()
		o.logger.Info("Image generated",
			zap.String("provider", p.Name()),
			zap.Int("images", len(result.Images)),
			zap.Int("fallbacks", len(attempts)))
		return result, attempts, nil
	}

	return nil, attempts, &FallbackError{Attempts: attempts}
}
