package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/pkg/ratelimit"
)

const stabilityBaseURL = "https://api.stability.ai"

// StabilityProvider generates images through the Stability AI REST API.
type StabilityProvider struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	apiKey      string
	baseURL     string
	logger      *zap.Logger
}

func NewStabilityProvider(apiKey, baseURL string, limiter *ratelimit.MultiLimiter, logger *zap.Logger) *StabilityProvider {
	if baseURL == "" {
		baseURL = stabilityBaseURL
	}
	return &StabilityProvider{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		rateLimiter: limiter,
		apiKey:      apiKey,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (p *StabilityProvider) Name() string {
	return "stability"
}

func (p *StabilityProvider) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if err := p.rateLimiter.Wait(ctx, ratelimit.LimiterImageGen); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	payload := map[string]interface{}{
		"text_prompts": []map[string]interface{}{
			{"text": req.Prompt},
		},
		"width":   req.Width,
		"height":  req.Height,
		"samples": req.Count,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	endpoint := p.baseURL + "/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stability returned %s: %s", resp.Status, string(detail))
	}

	var out struct {
		Artifacts []struct {
			Base64 string `json:"base64"`
		} `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	images := make([]Image, 0, len(out.Artifacts))
	for _, a := range out.Artifacts {
		images = append(images, Image{B64JSON: a.Base64})
	}

	return &GenerationResult{Images: images}, nil
}

func (p *StabilityProvider) CheckStatus(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/user/balance", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stability unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stability status check returned %s", resp.Status)
	}
	return nil
}
