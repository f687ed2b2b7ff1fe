package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/pkg/ratelimit"
)

// MastodonAdapter posts statuses to a Mastodon instance. The instance URL
// comes from the channel credentials since every channel may point at a
// different server.
type MastodonAdapter struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	baseURL     string
	logger      *zap.Logger
}

func NewMastodonAdapter(limiter *ratelimit.MultiLimiter, baseURL string, logger *zap.Logger) *MastodonAdapter {
	return &MastodonAdapter{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: limiter,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (a *MastodonAdapter) Name() string {
	return "mastodon"
}

func (a *MastodonAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := a.rateLimiter.Wait(ctx, ratelimit.LimiterMastodon); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	token := req.Credentials.GetString("access_token")
	server := req.Credentials.GetString("server")
	if server == "" {
		server = a.baseURL
	}
	if token == "" || server == "" {
		return nil, &Error{Code: models.ErrCodeInvalidCredentials, Message: "mastodon channel is missing access token or server"}
	}

	form := url.Values{}
	form.Set("status", req.Text)

	endpoint := strings.TrimRight(server, "/") + "/api/v1/statuses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	a.logger.Debug("Posting Mastodon status",
		zap.String("server", server),
		zap.Int("length", len(req.Text)))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("mastodon", resp)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &PublishResult{
		PostID: out.ID,
		URL:    out.URL,
	}, nil
}
