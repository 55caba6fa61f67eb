package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiDefaultTimeout = 15 * time.Second

// GeminiOptions configures the Gemini-backed prompt provider.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Provider
}

// GeminiProvider generates and refines prompts through the Gemini API and
// falls back to another provider when credentials are missing or the remote
// call fails.
type GeminiProvider struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	fallback Provider
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerationConfig struct {
	Temperature    float64 `json:"temperature,omitempty"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewGeminiProvider creates a provider; the fallback is optional.
func NewGeminiProvider(opts GeminiOptions) (*GeminiProvider, error) {
	if opts.APIKey == "" && opts.Fallback == nil {
		return nil, errors.New("gemini api key or fallback is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiProvider{
		apiKey:   opts.APIKey,
		model:    model,
		baseURL:  baseURL,
		client:   client,
		fallback: opts.Fallback,
	}, nil
}

// Generate asks Gemini to write a prompt describing how to reproduce the
// target image's product in the requested mode.
func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if g.apiKey == "" {
		return g.fallbackGenerate(ctx, req, errors.New("missing api key"))
	}
	parts := []geminiPart{{Text: g.buildGenerateInstruction(req)}}
	parts = append(parts, imageParts(req.TargetURL, req.RefURLs)...)
	text, err := g.invoke(ctx, parts, 0.5)
	if err != nil {
		return g.fallbackGenerate(ctx, req, err)
	}
	return text, nil
}

// Enhance asks Gemini to refine an existing prompt per the instructions.
func (g *GeminiProvider) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	if g.apiKey == "" {
		return g.fallbackEnhance(ctx, req, errors.New("missing api key"))
	}
	parts := []geminiPart{{Text: g.buildEnhanceInstruction(req)}}
	parts = append(parts, imageParts(req.TargetURL, req.RefURLs)...)
	text, err := g.invoke(ctx, parts, 0.3)
	if err != nil {
		return g.fallbackEnhance(ctx, req, err)
	}
	return text, nil
}

func (g *GeminiProvider) invoke(ctx context.Context, parts []geminiPart, temperature float64) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:    temperature,
			CandidateCount: 1,
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := extractText(out)
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

func (g *GeminiProvider) fallbackGenerate(ctx context.Context, req GenerateRequest, cause error) (string, error) {
	if g.fallback == nil {
		return "", fmt.Errorf("gemini generate: %w", cause)
	}
	return g.fallback.Generate(ctx, req)
}

func (g *GeminiProvider) fallbackEnhance(ctx context.Context, req EnhanceRequest, cause error) (string, error) {
	if g.fallback == nil {
		return "", fmt.Errorf("gemini enhance: %w", cause)
	}
	return g.fallback.Enhance(ctx, req)
}

func (g *GeminiProvider) buildGenerateInstruction(req GenerateRequest) string {
	var sb strings.Builder
	sb.WriteString("Write a single concise image-generation prompt that recreates the product ")
	sb.WriteString("in the target image using the style of the reference images. ")
	if req.Mode != "" {
		fmt.Fprintf(&sb, "Desired mode: %s. ", req.Mode)
	}
	sb.WriteString("Respond with the prompt text only, no preamble.")
	return sb.String()
}

func (g *GeminiProvider) buildEnhanceInstruction(req EnhanceRequest) string {
	var sb strings.Builder
	sb.WriteString("Refine the following image-generation prompt. Keep its intent, ")
	sb.WriteString("apply the instructions, respond with the revised prompt only.\n\n")
	fmt.Fprintf(&sb, "Prompt: %s\n", req.ExistingPrompt)
	if req.Instructions != "" {
		fmt.Fprintf(&sb, "Instructions: %s\n", req.Instructions)
	}
	if req.Mode != "" {
		fmt.Fprintf(&sb, "Mode: %s\n", req.Mode)
	}
	return sb.String()
}

func (g *GeminiProvider) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func imageParts(targetURL string, refURLs []string) []geminiPart {
	var parts []geminiPart
	if targetURL != "" {
		parts = append(parts, geminiPart{FileData: &geminiFileData{MIMEType: "image/png", FileURI: targetURL}})
	}
	for _, ref := range refURLs {
		if ref == "" {
			continue
		}
		parts = append(parts, geminiPart{FileData: &geminiFileData{MIMEType: "image/png", FileURI: ref}})
	}
	return parts
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

var _ Provider = (*GeminiProvider)(nil)
