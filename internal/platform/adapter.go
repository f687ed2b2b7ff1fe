// Package platform contains the per-platform publishing adapters and the
// registry that selects one by a channel's platform identifier.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/courierhq/courier/internal/models"
)

// PublishRequest carries everything an adapter needs for one post.
type PublishRequest struct {
	Text        string         `json:"text"`
	Credentials models.JSONMap `json:"-"`
	MediaURLs   []string       `json:"media_urls,omitempty"`
}

// PublishResult is the successful outcome of a platform call.
type PublishResult struct {
	PostID string `json:"post_id"`
	URL    string `json:"url"`
}

// Adapter publishes to one platform. Implementations must return an *Error
// for platform-level failures so callers can classify them.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// Error is a structured platform failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode extracts the structured code from an adapter error, defaulting to
// PLATFORM_ERROR for plain errors (network failures, timeouts).
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return models.ErrCodePlatformError
}

// IsCredentialError reports whether the failure means the channel's
// credentials are invalid or expired.
func IsCredentialError(err error) bool {
	return ErrorCode(err) == models.ErrCodeInvalidCredentials
}
