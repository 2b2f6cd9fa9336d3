// Package vision recognizes text with the Google Cloud Vision
// DOCUMENT_TEXT_DETECTION feature.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
)

// Name is the engine name used in configuration.
const Name = "vision"

// annotator is the subset of the Vision client the backend uses.
type annotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

type gcpAnnotator struct {
	client *vision.ImageAnnotatorClient
}

func (g gcpAnnotator) BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
	return g.client.BatchAnnotateImages(ctx, req)
}

func (g gcpAnnotator) Close() error { return g.client.Close() }

// Backend calls Cloud Vision. The underlying client is safe for concurrent use.
type Backend struct {
	client annotator
}

// New creates a Vision backend. Credentials are taken, in order, from the
// settings, GOOGLE_CREDENTIALS (inline JSON), GOOGLE_APPLICATION_CREDENTIALS
// (file), and finally application default credentials.
func New(ctx context.Context, s engine.Settings) (*Backend, error) {
	var opts []option.ClientOption
	switch {
	case s.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(s.CredentialsJSON)))
	case s.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(s.CredentialsFile))
	case os.Getenv("GOOGLE_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(os.Getenv("GOOGLE_CREDENTIALS"))))
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsFile(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &Backend{client: gcpAnnotator{client: client}}, nil
}

// newWithAnnotator is used by tests.
func newWithAnnotator(a annotator) *Backend { return &Backend{client: a} }

// Factory builds the backend from registry settings.
func Factory(ctx context.Context, s engine.Settings) (engine.Backend, error) {
	b, err := New(ctx, s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return Name }

// RecognizeRaw implements engine.Backend. Word confidences (0-1 in the API)
// are reported on the 0-100 scale.
func (b *Backend) RecognizeRaw(ctx context.Context, img image.Image, langs []string) (engine.RawOutput, error) {
	data, err := engine.EncodePNG(img)
	if err != nil {
		return engine.RawOutput{}, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{{
				Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
			}},
			ImageContext: &visionpb.ImageContext{LanguageHints: engine.BCP47Languages(langs)},
		}},
	}

	resp, err := b.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return engine.RawOutput{}, fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return engine.RawOutput{}, errors.New("no response from vision API")
	}

	r := resp.GetResponses()[0]
	if r.GetError() != nil && r.GetError().GetMessage() != "" {
		return engine.RawOutput{}, fmt.Errorf("vision API error: %s", r.GetError().GetMessage())
	}

	doc := r.GetFullTextAnnotation()
	if doc == nil {
		return engine.RawOutput{}, nil
	}

	var confs []float64
	for _, page := range doc.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, word := range para.GetWords() {
					confs = append(confs, float64(word.GetConfidence())*100)
				}
			}
		}
	}
	return engine.RawOutput{Text: doc.GetText(), TokenConfidences: confs}, nil
}

// Close releases the API client.
func (b *Backend) Close() error { return b.client.Close() }
