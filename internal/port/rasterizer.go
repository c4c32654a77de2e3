package port

import "context"

// Rasterizer turns one page of a PDF file into a raw image at the
// requested resolution.
type Rasterizer interface {
	RenderPage(ctx context.Context, pdfPath string, pageNumber, dpi int) ([]byte, error)
}

// Inspector reports PDF metadata ahead of rasterization. Validate
// returns a permanent domain.ConversionError for corrupt or encrypted
// files.
type Inspector interface {
	PageCount(pdfPath string) (int, error)
	Validate(pdfPath string) error
}
