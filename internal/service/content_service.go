package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/models"
	"go.uber.org/zap"
	aiplatform "google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultCharacterBudget = 280
	truncationSuffix       = "..."
)

type ContentRequest struct {
	Keywords []string
	Hashtags []string
	Audience string
	Budget   int
	Count    int
}

// ContentGenerator produces post texts for a campaign. Implementations may
// return fewer items than requested.
type ContentGenerator interface {
	Generate(ctx context.Context, req ContentRequest) ([]string, error)
}

// ContentRequestFor builds the generation request for n posts of campaign c.
func ContentRequestFor(c *models.Campaign, budget, n int) ContentRequest {
	return ContentRequest{
		Keywords: c.Keywords,
		Hashtags: c.Hashtags,
		Audience: c.Audience,
		Budget:   budget,
		Count:    n,
	}
}

// FitContent drops blank items and truncates the rest to budget characters.
func FitContent(items []string, budget int) []string {
	if budget <= 0 {
		budget = DefaultCharacterBudget
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, TruncateContent(item, budget))
	}
	return out
}

// TruncateContent cuts text to at most budget runes, marking the cut with an
// ellipsis.
func TruncateContent(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	keep := budget - len(truncationSuffix)
	if keep < 0 {
		return string(runes[:budget])
	}
	return strings.TrimRight(string(runes[:keep]), " ") + truncationSuffix
}

// geminiGenerator asks a Gemini model on Vertex AI for one post per call.
type geminiGenerator struct {
	svc   *aiplatform.Service
	model string
	log   *zap.Logger
}

// NewGeminiGenerator builds a Vertex AI client for cfg.Model. An API key is
// used when set, otherwise application default credentials. Extra options
// are appended after the configured ones.
func NewGeminiGenerator(ctx context.Context, cfg config.ContentConfig, log *zap.Logger, opts ...option.ClientOption) (ContentGenerator, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("vertex project is not configured")
	}
	var clientOpts []option.ClientOption
	if cfg.Location != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(fmt.Sprintf("https://%s-aiplatform.googleapis.com/", cfg.Location)))
	}
	if cfg.GeminiAPIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.GeminiAPIKey))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := aiplatform.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", cfg.ProjectID, cfg.Location, cfg.Model)
	return &geminiGenerator{svc: svc, model: model, log: log}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req ContentRequest) ([]string, error) {
	var items []string
	for i := 0; i < req.Count; i++ {
		text, err := g.generateOne(ctx, req, i)
		if err != nil {
			return items, err
		}
		items = append(items, text)
	}
	return items, nil
}

func (g *geminiGenerator) generateOne(ctx context.Context, req ContentRequest, variant int) (string, error) {
	call := g.svc.Projects.Locations.Publishers.Models.GenerateContent(g.model, &aiplatform.GoogleCloudAiplatformV1GenerateContentRequest{
		Contents: []*aiplatform.GoogleCloudAiplatformV1Content{{
			Role:  "user",
			Parts: []*aiplatform.GoogleCloudAiplatformV1Part{{Text: contentPrompt(req, variant)}},
		}},
	})

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return "", classifyGeminiError(err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return text, nil
		}
	}
	g.log.Warn("gemini returned no text", zap.Int("variant", variant))
	return "", nil
}

func contentPrompt(req ContentRequest, variant int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write one social media post of at most %d characters.\n", req.Budget)
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&sb, "Topics: %s.\n", strings.Join(req.Keywords, ", "))
	}
	if len(req.Hashtags) > 0 {
		fmt.Fprintf(&sb, "Include these hashtags: %s.\n", strings.Join(req.Hashtags, " "))
	}
	if req.Audience != "" {
		fmt.Fprintf(&sb, "Audience: %s.\n", req.Audience)
	}
	fmt.Fprintf(&sb, "This is variation %d, make it different from the others. Reply with the post text only.", variant+1)
	return sb.String()
}

func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return apperrors.Transient("generate content", err)
		default:
			return apperrors.Permanent("generate content", err)
		}
	}
	return apperrors.Transient("generate content", err)
}

// StaticContent serves a fixed list of texts, cycling when more are asked
// for than it holds. It backs deployments without a generator.
type StaticContent []string

func (s StaticContent) Generate(_ context.Context, req ContentRequest) ([]string, error) {
	if len(s) == 0 {
		return nil, nil
	}
	out := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		out = append(out, s[i%len(s)])
	}
	return out, nil
}

// KeywordContent composes posts from the request's keywords and hashtags
// without a model. It stands in when no generator is configured.
type KeywordContent struct{}

func (KeywordContent) Generate(_ context.Context, req ContentRequest) ([]string, error) {
	if len(req.Keywords) == 0 {
		return nil, nil
	}
	tags := strings.Join(req.Hashtags, " ")
	out := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		text := req.Keywords[i%len(req.Keywords)]
		if req.Audience != "" {
			text += " for " + req.Audience
		}
		if round := i / len(req.Keywords); round > 0 {
			text = fmt.Sprintf("%s, part %d", text, round+1)
		}
		if tags != "" {
			text += " " + tags
		}
		out = append(out, text)
	}
	return out, nil
}
