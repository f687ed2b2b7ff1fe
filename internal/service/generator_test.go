package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/courier/internal/models"
)

func TestGenerateUsesConfigText(t *testing.T) {
	g := NewTemplateGenerator()

	body, err := g.Generate(context.Background(), 1, models.JSONMap{"text": "release notes"})
	require.NoError(t, err)
	assert.Equal(t, "release notes", body)

	body, err = g.Generate(context.Background(), 1, models.JSONMap{"template": "weekly digest"})
	require.NoError(t, err)
	assert.Equal(t, "weekly digest", body)

	_, err = g.Generate(context.Background(), 1, models.JSONMap{})
	assert.Error(t, err)
}

func TestAdaptTruncatesPerPlatform(t *testing.T) {
	g := NewTemplateGenerator()
	long := strings.Repeat("word ", 100) // 500 chars

	adaptations, err := g.Adapt(context.Background(), &models.Content{Body: long},
		[]string{"twitter", "linkedin"})
	require.NoError(t, err)

	twitter := adaptations["twitter"]
	assert.LessOrEqual(t, utf8.RuneCountInString(twitter.Text), 280)
	assert.True(t, strings.HasSuffix(twitter.Text, "…"))
	assert.Equal(t, utf8.RuneCountInString(twitter.Text), twitter.Length)

	// LinkedIn's limit is 3000; the text fits untouched.
	assert.Equal(t, long, adaptations["linkedin"].Text)
}

func TestAdaptExtractsHashtags(t *testing.T) {
	g := NewTemplateGenerator()

	adaptations, err := g.Adapt(context.Background(),
		&models.Content{Body: "shipping v2 today #golang #release"}, []string{"mastodon"})
	require.NoError(t, err)

	assert.Equal(t, []string{"#golang", "#release"}, adaptations["mastodon"].Hashtags)
}

func TestAdaptUnknownPlatformKeepsFullText(t *testing.T) {
	g := NewTemplateGenerator()
	long := strings.Repeat("x", 1000)

	adaptations, err := g.Adapt(context.Background(), &models.Content{Body: long}, []string{"bluesky"})
	require.NoError(t, err)
	assert.Equal(t, long, adaptations["bluesky"].Text)
}
