// Package openaivision transcribes receipts with an OpenAI vision model and
// derives token confidences from the returned log probabilities.
package openaivision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

const (
	// Name is the engine name used in configuration.
	Name = "openai"
	// DefaultModel is used when no model is configured.
	DefaultModel = openai.GPT4oMini

	systemPrompt = `You are an OCR engine. Transcribe every line of text in the receipt image exactly as printed, ` +
		`top to bottom, one output line per printed line. Do not translate, correct, summarize or add commentary.`
)

// chatCompleter is the subset of *openai.Client the backend uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Backend sends the prepared image as a data URL to a chat completion model.
type Backend struct {
	client chatCompleter
	model  string
}

// New creates the backend. The API key falls back to OPENAI_API_KEY.
func New(s engine.Settings) (*Backend, error) {
	apiKey := s.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", engine.ErrUnavailable)
	}

	cfg := openai.DefaultConfig(apiKey)
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	model := s.Model
	if model == "" {
		model = DefaultModel
	}
	return &Backend{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Factory builds the backend from registry settings.
func Factory(_ context.Context, s engine.Settings) (engine.Backend, error) {
	b, err := New(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return Name }

// RecognizeRaw implements engine.Backend.
func (b *Backend) RecognizeRaw(ctx context.Context, img image.Image, langs []string) (engine.RawOutput, error) {
	data, err := engine.EncodePNG(img)
	if err != nil {
		return engine.RawOutput{}, err
	}

	instruction := "Transcribe this receipt."
	if hints := engine.BCP47Languages(langs); len(hints) > 0 {
		instruction += " Expected languages: " + strings.Join(hints, ", ") + "."
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: 0,
		LogProbs:    true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: instruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
					Detail: openai.ImageURLDetailHigh,
				}},
			}},
		},
	})
	if err != nil {
		return engine.RawOutput{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return engine.RawOutput{}, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return engine.RawOutput{
		Text:             stripFences(choice.Message.Content),
		TokenConfidences: tokenConfidences(choice.LogProbs),
	}, nil
}

// tokenConfidences converts log probabilities to 0-100 confidences,
// skipping whitespace-only tokens.
func tokenConfidences(lp *openai.LogProbs) []float64 {
	if lp == nil {
		return nil
	}
	out := make([]float64, 0, len(lp.Content))
	for _, tok := range lp.Content {
		if strings.TrimSpace(tok.Token) == "" || strings.HasPrefix(tok.Token, "```") {
			continue
		}
		out = append(out, math.Exp(tok.LogProb)*100)
	}
	return out
}

// stripFences removes a markdown code fence the model may wrap the text in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
