package openaivision

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

var img = image.NewGray(image.Rect(0, 0, 8, 8))

func TestRecognizeRaw(t *testing.T) {
	fake := &fakeChat{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Content: "```text\nSUMA 10.00\n```"},
		LogProbs: &openai.LogProbs{Content: []openai.LogProb{
			{Token: "SUMA", LogProb: math.Log(0.9)},
			{Token: " ", LogProb: math.Log(0.1)},
			{Token: "10.00", LogProb: math.Log(0.5)},
		}},
	}}}}
	b := &Backend{client: fake, model: DefaultModel}

	out, err := b.RecognizeRaw(context.Background(), img, []string{"pol"})
	require.NoError(t, err)
	assert.Equal(t, "SUMA 10.00", out.Text)
	require.Len(t, out.TokenConfidences, 2)
	assert.InDelta(t, 90, out.TokenConfidences[0], 1e-9)
	assert.InDelta(t, 50, out.TokenConfidences[1], 1e-9)

	assert.True(t, fake.req.LogProbs)
	require.Len(t, fake.req.Messages, 2)
	parts := fake.req.Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "pl")
	assert.Contains(t, parts[1].ImageURL.URL, "data:image/png;base64,")
}

func TestRecognizeRaw_Errors(t *testing.T) {
	b := &Backend{client: &fakeChat{err: errors.New("rate limited")}, model: DefaultModel}
	_, err := b.RecognizeRaw(context.Background(), img, nil)
	assert.ErrorContains(t, err, "rate limited")

	b = &Backend{client: &fakeChat{}, model: DefaultModel}
	_, err = b.RecognizeRaw(context.Background(), img, nil)
	assert.Error(t, err)
}

func TestNew_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(engine.Settings{})
	require.ErrorIs(t, err, engine.ErrUnavailable)

	b, err := New(engine.Settings{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", b.model)
	assert.Equal(t, Name, b.Name())
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "a\nb", stripFences("```\na\nb\n```"))
	assert.Equal(t, "plain", stripFences("  plain \n"))
}
