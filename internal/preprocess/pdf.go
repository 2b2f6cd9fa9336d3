package preprocess

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ExtractFirstPageImage writes the PDF to a temporary file, extracts the
// images of page 1 with pdfcpu and returns the one with the most pixels.
// Images above maxPixels are skipped without being decoded.
func ExtractFirstPageImage(data []byte, maxPixels int64) (image.Image, error) {
	tempDir, err := os.MkdirTemp("", "receipt-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	src := filepath.Join(tempDir, "input.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	outDir := filepath.Join(tempDir, "images")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := api.ExtractImagesFile(src, outDir, []string{"1"}, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	return largestPageImage(outDir, 1, maxPixels)
}

// largestPageImage picks the biggest decodable image pdfcpu extracted for page.
func largestPageImage(dir string, page int, maxPixels int64) (image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var (
		best     image.Image
		bestArea int
		tooLarge bool
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if p, err := parsePageFromFilename(e.Name()); err != nil || p != page {
			continue
		}
		img, err := loadImageFile(filepath.Join(dir, e.Name()), maxPixels)
		if errors.Is(err, ErrImageTooLarge) {
			tooLarge = true
			continue
		}
		if err != nil {
			continue
		}
		if area := img.Bounds().Dx() * img.Bounds().Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	if best == nil && tooLarge {
		return nil, ErrImageTooLarge
	}
	if best == nil {
		return nil, ErrNoPageImage
	}
	return best, nil
}

func loadImageFile(path string, maxPixels int64) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from our own temp directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if exceedsPixels(cfg, maxPixels) {
		return nil, ErrImageTooLarge
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	return img, err
}

// parsePageFromFilename reads the page number out of pdfcpu's extract naming.
// pdfcpu writes files such as input_1_Im0.png or page_1_image_1.jpg depending
// on version; the first integer field is the page.
func parsePageFromFilename(name string) (int, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	for part := range strings.SplitSeq(base, "_") {
		if n, err := strconv.Atoi(part); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no page number in %q", name)
}
