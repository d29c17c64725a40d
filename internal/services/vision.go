package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"studygen/internal/logging"
)

const (
	visionMaxTokens   = 1000
	visionInstruction = "Describe in detail the educational content of this image. " +
		"Transcribe any visible text, formulas, tables and diagram labels, and explain the concepts they present " +
		"so that the description can be used to write study material."
	visionSystemPrompt = "You are an assistant that turns course material images into precise, complete textual descriptions."
)

// VisionDescriber turns an image into a textual description of its contents.
type VisionDescriber interface {
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// VisionService calls a multimodal chat-completion model through the
// OpenAI-compatible API.
type VisionService struct {
	client *openai.Client
	model  string
	log    *logrus.Entry
}

func NewVisionService(client *openai.Client, model string) *VisionService {
	return &VisionService{
		client: client,
		model:  model,
		log:    logging.New("vision"),
	}
}

// DescribeImage performs a single request; failures are not retried.
func (s *VisionService) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("%w: vision model is not configured", ErrGenerationFailed)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	s.log.WithFields(logrus.Fields{"mime": mimeType, "bytes": len(data)}).Debug("describing image")

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: visionSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: visionInstruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens: visionMaxTokens,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: describe image: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: vision model returned no choices", ErrGenerationFailed)
	}

	description := strings.TrimSpace(resp.Choices[0].Message.Content)
	if description == "" {
		return "", fmt.Errorf("%w: vision model returned empty content", ErrGenerationFailed)
	}
	return description, nil
}
