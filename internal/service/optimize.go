package service

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decode support for webp sources

	"github.com/docshare/convertd/internal/domain"
)

// Target page widths per quality tier; taller-than-wide renders keep
// their aspect ratio.
const (
	standardMaxWidth = 1200
	highMaxWidth     = 2000
)

const (
	standardJPEGQuality = 80
	highJPEGQuality     = 92
)

// optimizePage recompresses a raw rendered page to the target format,
// quality tier, and bounded width.
func optimizePage(raw []byte, format domain.PageFormat, quality domain.QualityLevel) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}

	img = scaleToWidth(img, maxWidthFor(quality))

	var buf bytes.Buffer
	switch format {
	case domain.FormatJPEG:
		opts := &jpeg.Options{Quality: standardJPEGQuality}
		if quality == domain.QualityHigh {
			opts.Quality = highJPEGQuality
		}
		if err := jpeg.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("no encoder for format %q", format)
	}
	return buf.Bytes(), nil
}

func maxWidthFor(quality domain.QualityLevel) int {
	if quality == domain.QualityHigh {
		return highMaxWidth
	}
	return standardMaxWidth
}

func scaleToWidth(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= maxWidth {
		return img
	}

	height := bounds.Dy() * maxWidth / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
