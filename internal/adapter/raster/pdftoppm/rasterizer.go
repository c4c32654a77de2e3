package pdftoppm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docshare/convertd/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path is invalid")
)

// Rasterizer renders single PDF pages to PNG by shelling out to
// pdftoppm (poppler-utils).
type Rasterizer struct {
	binary string
}

func NewRasterizer(binary string) *Rasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &Rasterizer{binary: binary}
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

func renderArgs(pdfPath, outPrefix string, pageNumber, dpi int) []string {
	return []string{
		"-png",
		"-singlefile",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(pageNumber),
		"-l", strconv.Itoa(pageNumber),
		pdfPath,
		outPrefix,
	}
}

func (r *Rasterizer) RenderPage(ctx context.Context, pdfPath string, pageNumber, dpi int) ([]byte, error) {
	if err := validatePath(pdfPath); err != nil {
		return nil, fmt.Errorf("invalid pdf path: %w", err)
	}
	if pageNumber < 1 {
		return nil, fmt.Errorf("invalid page number %d", pageNumber)
	}
	if dpi < 1 {
		return nil, fmt.Errorf("invalid dpi %d", dpi)
	}

	scratch, err := os.MkdirTemp("", "pdftoppm-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	outPrefix := filepath.Join(scratch, "page")
	cmd := exec.CommandContext(ctx, r.binary, renderArgs(pdfPath, outPrefix, pageNumber, dpi)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render page %d: %w", pageNumber, ctx.Err())
		}
		return nil, fmt.Errorf("render page %d: %w: %s", pageNumber, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", pageNumber, err)
	}
	return data, nil
}

var _ port.Rasterizer = (*Rasterizer)(nil)
