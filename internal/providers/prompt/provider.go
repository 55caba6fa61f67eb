package prompt

import "context"

const (
	ProviderStatic = "static"
	ProviderGemini = "gemini"
)

// GenerateRequest asks the LLM to write a fresh generation prompt from the
// reference and target images.
type GenerateRequest struct {
	RefURLs   []string
	TargetURL string
	Mode      string
}

// EnhanceRequest asks the LLM to refine an existing prompt following the
// user's instructions.
type EnhanceRequest struct {
	ExistingPrompt string
	Instructions   string
	RefURLs        []string
	TargetURL      string
	Mode           string
}

// Provider is the contract implemented by all prompt providers.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}
