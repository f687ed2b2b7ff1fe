package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/pkg/ratelimit"
)

const (
	linkedinBaseURL = "https://api.linkedin.com"
	restliVersion   = "2.0.0"
	linkedinVersion = "202401"
)

// LinkedInAdapter posts UGC shares through the REST API.
type LinkedInAdapter struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	baseURL     string
	logger      *zap.Logger
}

func NewLinkedInAdapter(limiter *ratelimit.MultiLimiter, baseURL string, logger *zap.Logger) *LinkedInAdapter {
	if baseURL == "" {
		baseURL = linkedinBaseURL
	}
	return &LinkedInAdapter{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: limiter,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (a *LinkedInAdapter) Name() string {
	return "linkedin"
}

func (a *LinkedInAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := a.rateLimiter.Wait(ctx, ratelimit.LimiterLinkedIn); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	token := req.Credentials.GetString("access_token")
	author := req.Credentials.GetString("author_urn")
	if token == "" || author == "" {
		return nil, &Error{Code: models.ErrCodeInvalidCredentials, Message: "linkedin channel is missing access token or author URN"}
	}

	payload := map[string]interface{}{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary": map[string]string{
					"text": req.Text,
				},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal share: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Restli-Protocol-Version", restliVersion)
	httpReq.Header.Set("LinkedIn-Version", linkedinVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	a.logger.Debug("Posting LinkedIn share",
		zap.String("author", author),
		zap.Int("length", len(req.Text)))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, classifyHTTPError("linkedin", resp)
	}

	// LinkedIn returns the share URN in the X-RestLi-Id header.
	postID := resp.Header.Get("X-RestLi-Id")
	if postID == "" {
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
			postID = out.ID
		}
	}

	return &PublishResult{
		PostID: postID,
		URL:    fmt.Sprintf("https://www.linkedin.com/feed/update/%s", url.PathEscape(postID)),
	}, nil
}
