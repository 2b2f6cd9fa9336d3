package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultReceiptLines is a short, typical grocery receipt.
var DefaultReceiptLines = []string{
	"MARKET 24",
	"12.03.2024 14:22",
	"MILK          1,29",
	"BREAD         2,49",
	"APPLES        3,10",
	"SUMA          6,88",
}

// ReceiptConfig controls synthetic receipt rendering.
type ReceiptConfig struct {
	Lines      []string
	Width      int
	Margin     int
	LineGap    int
	Scale      int     // integer upscaling of the rendered 7x13 font
	Rotation   float64 // degrees, counter-clockwise
	NoiseLevel float64 // share of pixels flipped, 0 disables
	Background color.Color
	Foreground color.Color
}

// DefaultReceiptConfig returns a readable, straight receipt.
func DefaultReceiptConfig() ReceiptConfig {
	return ReceiptConfig{
		Lines:      DefaultReceiptLines,
		Width:      220,
		Margin:     12,
		LineGap:    6,
		Scale:      2,
		Background: color.White,
		Foreground: color.Black,
	}
}

// GenerateReceipt renders the configured lines with basicfont.
func GenerateReceipt(cfg ReceiptConfig) image.Image {
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + cfg.LineGap
	height := 2*cfg.Margin + len(cfg.Lines)*lineHeight

	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.Foreground}, Face: face}
	for i, line := range cfg.Lines {
		drawer.Dot = fixed.P(cfg.Margin, cfg.Margin+(i+1)*lineHeight-cfg.LineGap)
		drawer.DrawString(line)
	}

	if cfg.NoiseLevel > 0 {
		addNoise(img, cfg.NoiseLevel)
	}

	var out image.Image = img
	if cfg.Scale > 1 {
		out = imaging.Resize(out, cfg.Width*cfg.Scale, height*cfg.Scale, imaging.NearestNeighbor)
	}
	if cfg.Rotation != 0 {
		out = imaging.Rotate(out, cfg.Rotation, cfg.Background)
	}
	return out
}

// addNoise flips a deterministic scatter of pixels to simulate scanning artifacts.
func addNoise(img *image.RGBA, noiseLevel float64) {
	period := int(1 / noiseLevel)
	if period < 1 {
		period = 1
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if (x*31+y*17)%period == 0 {
				c := img.RGBAAt(x, y)
				img.SetRGBA(x, y, color.RGBA{255 - c.R, 255 - c.G, 255 - c.B, c.A})
			}
		}
	}
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// EncodeJPEG encodes img as JPEG bytes.
func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// ReceiptPNG renders the default receipt with the given lines as PNG bytes.
// Different line sets produce different bytes and therefore different cache keys.
func ReceiptPNG(t testing.TB, lines ...string) []byte {
	t.Helper()
	cfg := DefaultReceiptConfig()
	if len(lines) > 0 {
		cfg.Lines = lines
	}
	return EncodePNG(t, GenerateReceipt(cfg))
}

// PNGHeader returns the signature and IHDR chunk of an 8-bit grayscale PNG
// declaring width x height. The bytes carry no pixel data, so they are enough
// for image.DecodeConfig but not for a full decode.
func PNGHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	crc := crc32.NewIEEE()
	_, _ = crc.Write([]byte("IHDR"))
	_, _ = crc.Write(ihdr)
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}
