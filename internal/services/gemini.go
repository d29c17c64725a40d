package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// NewGeminiClient connects to the Gemini API. The caller closes the client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGeminiCompleter(client *genai.Client, model string) *GeminiCompleter {
	return &GeminiCompleter{client: client, model: model}
}

func (c *GeminiCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("%w: gemini completer is not configured", ErrGenerationFailed)
	}

	// a fresh handle per call; GenerativeModel carries mutable settings
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	model.SetTemperature(0.4)
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %w", ErrGenerationFailed, err)
	}
	text, ok := geminiText(resp)
	if !ok {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrGenerationFailed)
	}
	return text, nil
}

// GeminiVision describes images with a multimodal Gemini model.
type GeminiVision struct {
	client *genai.Client
	model  string
}

func NewGeminiVision(client *genai.Client, model string) *GeminiVision {
	return &GeminiVision{client: client, model: model}
}

func (v *GeminiVision) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if v == nil || v.client == nil {
		return "", fmt.Errorf("%w: gemini vision is not configured", ErrGenerationFailed)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	model := v.client.GenerativeModel(v.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(visionSystemPrompt)}}
	model.SetMaxOutputTokens(visionMaxTokens)

	format := strings.TrimPrefix(baseMediaType(mimeType), "image/")
	resp, err := model.GenerateContent(ctx, genai.ImageData(format, data), genai.Text(visionInstruction))
	if err != nil {
		return "", fmt.Errorf("%w: describe image: %w", ErrGenerationFailed, err)
	}
	text, ok := geminiText(resp)
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: vision model returned empty content", ErrGenerationFailed)
	}
	return strings.TrimSpace(text), nil
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), true
}
