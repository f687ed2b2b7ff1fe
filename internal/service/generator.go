package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/models"
)

// Per-platform text length ceilings used by the template generator's
// adaptations.
var platformLimits = map[string]int{
	"twitter":  280,
	"mastodon": 500,
	"linkedin": 3000,
}

var hashtagPattern = regexp.MustCompile(`#\w+`)

// TemplateGenerator is the built-in Generator: it takes the text straight
// from the action config and adapts by length-trimming per platform. Real
// text generation lives in an external collaborator behind the same
// interface.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Generate(ctx context.Context, productID uint, config models.JSONMap) (string, error) {
	text := config.GetString("text")
	if text == "" {
		text = config.GetString("template")
	}
	if text == "" {
		return "", fmt.Errorf("generate_content config needs a text or template field")
	}
	return text, nil
}

func (g *TemplateGenerator) Adapt(ctx context.Context, content *models.Content, platforms []string) (map[string]models.Adaptation, error) {
	adaptations := make(map[string]models.Adaptation, len(platforms))
	for _, platform := range platforms {
		text := content.Body
		if limit, ok := platformLimits[platform]; ok {
			text = truncate(text, limit)
		}
		adaptations[platform] = models.Adaptation{
			Text:     text,
			Length:   utf8.RuneCountInString(text),
			Hashtags: hashtagPattern.FindAllString(text, -1),
		}
	}
	return adaptations, nil
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	trimmed := strings.TrimRight(string(runes[:limit-1]), " \n")
	return trimmed + "…"
}

// LogNotifier is the default Notifier: notifications land in the log stream.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, message string, data models.JSONMap) {
	n.logger.Info("Notification", zap.String("message", message), zap.Any("data", data))
}
