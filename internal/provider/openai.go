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

const openAIBaseURL = "https://api.openai.com"

// OpenAIProvider generates images through the OpenAI images API.
type OpenAIProvider struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	apiKey      string
	baseURL     string
	logger      *zap.Logger
}

func NewOpenAIProvider(apiKey, baseURL string, limiter *ratelimit.MultiLimiter, logger *zap.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIProvider{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		rateLimiter: limiter,
		apiKey:      apiKey,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if err := p.rateLimiter.Wait(ctx, ratelimit.LimiterImageGen); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	payload := map[string]interface{}{
		"model":  "dall-e-3",
		"prompt": req.Prompt,
		"n":      req.Count,
		"size":   fmt.Sprintf("%dx%d", req.Width, req.Height),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai returned %s: %s", resp.Status, string(detail))
	}

	var out struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	images := make([]Image, 0, len(out.Data))
	for _, d := range out.Data {
		images = append(images, Image{URL: d.URL, B64JSON: d.B64JSON})
	}

	return &GenerationResult{Images: images}, nil
}

func (p *OpenAIProvider) CheckStatus(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai status check returned %s", resp.Status)
	}
	return nil
}
