package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/pkg/ratelimit"
)

const twitterBaseURL = "https://api.twitter.com"

// TwitterAdapter posts tweets through the v2 API.
type TwitterAdapter struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	baseURL     string
	logger      *zap.Logger
}

func NewTwitterAdapter(limiter *ratelimit.MultiLimiter, baseURL string, logger *zap.Logger) *TwitterAdapter {
	if baseURL == "" {
		baseURL = twitterBaseURL
	}
	return &TwitterAdapter{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: limiter,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (a *TwitterAdapter) Name() string {
	return "twitter"
}

func (a *TwitterAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := a.rateLimiter.Wait(ctx, ratelimit.LimiterTwitter); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	token := req.Credentials.GetString("access_token")
	if token == "" {
		return nil, &Error{Code: models.ErrCodeInvalidCredentials, Message: "twitter channel is missing an access token"}
	}

	body, err := json.Marshal(map[string]string{"text": req.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tweet: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	a.logger.Debug("Posting tweet", zap.Int("length", len(req.Text)))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("twitter", resp)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode tweet response: %w", err)
	}

	return &PublishResult{
		PostID: out.Data.ID,
		URL:    fmt.Sprintf("https://twitter.com/i/web/status/%s", out.Data.ID),
	}, nil
}

// classifyHTTPError turns a non-2xx platform response into a structured error.
func classifyHTTPError(platform string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s returned %s: %s", platform, resp.Status, string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Code: models.ErrCodeInvalidCredentials, Message: msg}
	case http.StatusTooManyRequests:
		return &Error{Code: models.ErrCodeRateLimited, Message: msg}
	default:
		return &Error{Code: models.ErrCodePlatformError, Message: msg}
	}
}
