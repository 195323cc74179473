// Package reply adapts a langchaingo chat model to the core's
// ReplyGenerator contract. The orchestrator never sees model specifics; it
// hands over an ordered transcript and gets back exactly one assistant
// completion or a generation error.
package reply

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"avatarchat/pkg/chat"
	"avatarchat/pkg/errs"
	"avatarchat/pkg/models"
)

// Config for the Google AI (Gemini) backed provider.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Provider implements chat.ReplyGenerator on top of any langchaingo model.
type Provider struct {
	llm llms.Model
}

// New initializes a Gemini-backed provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.KindGeneration, "generator api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	opts := []googleai.Option{
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(model),
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, googleai.WithDefaultMaxTokens(cfg.MaxTokens))
	}
	llm, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, errs.Generation("initialize model", err)
	}
	return &Provider{llm: llm}, nil
}

// NewWithModel wraps an already-constructed langchaingo model; used by tests
// and by deployments that prefer a different provider.
func NewWithModel(llm llms.Model) *Provider { return &Provider{llm: llm} }

// Generate produces the next assistant reply for the transcript. Turn order
// is preserved verbatim; a persona system turn, when present, is already the
// first element. Empty or partial model output is an error — a reply is
// never fabricated.
func (p *Provider) Generate(ctx context.Context, turns []chat.Turn) (string, error) {
	if len(turns) == 0 {
		return "", errs.New(errs.KindGeneration, "empty transcript")
	}
	msgs := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llms.TextParts(messageType(t.Role), t.Content))
	}
	resp, err := p.llm.GenerateContent(ctx, msgs)
	if err != nil {
		return "", errs.Generation("model call failed", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errs.New(errs.KindGeneration, "model returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", errs.New(errs.KindGeneration, "model returned an empty reply")
	}
	return content, nil
}

func messageType(r models.Role) llms.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
