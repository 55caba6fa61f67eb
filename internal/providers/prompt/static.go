package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StaticProvider produces deterministic prompt text without any remote
// call. It backs development environments and acts as the fallback when the
// LLM provider is unreachable.
type StaticProvider struct{}

// NewStaticProvider creates the fallback provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// Generate composes a serviceable prompt from the request shape alone.
func (s *StaticProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := cases.Title(language.Und)
	mode := req.Mode
	if mode == "" {
		mode = "studio"
	}
	prompt := fmt.Sprintf(
		"%s product photograph matching the target image, consistent lighting and styling",
		c.String(mode),
	)
	if len(req.RefURLs) > 0 {
		prompt += fmt.Sprintf(", composition guided by %d reference images", len(req.RefURLs))
	}
	return prompt, nil
}

// Enhance appends the user's instructions onto the existing prompt.
func (s *StaticProvider) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	existing := strings.TrimSpace(req.ExistingPrompt)
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		return existing, nil
	}
	return existing + ". " + instructions, nil
}

var _ Provider = (*StaticProvider)(nil)
