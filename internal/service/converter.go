package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/infrastructure/logger"
	"github.com/docshare/convertd/internal/port"
)

// Upper bound on in-flight pages regardless of host parallelism.
const maxBatchSize = 4

// Pages encoding below this are suspicious (possibly a blank render)
// but legitimately blank pages exist, so it is a warning, not a
// failure.
const minPageBytes = 1024

// Converter is the stateless conversion unit: download, rasterize in
// bounded batches, recompress, upload. It never retries; the job
// manager owns the retry policy.
type Converter struct {
	objects    port.ObjectStore
	rasterizer port.Rasterizer
	inspector  port.Inspector
	scratchDir string
	urlTTL     time.Duration
}

func NewConverter(objects port.ObjectStore, rasterizer port.Rasterizer, inspector port.Inspector, scratchDir string, urlTTL time.Duration) *Converter {
	return &Converter{
		objects:    objects,
		rasterizer: rasterizer,
		inspector:  inspector,
		scratchDir: scratchDir,
		urlTTL:     urlTTL,
	}
}

func (c *Converter) Convert(ctx context.Context, documentID, storageRef string, opts port.ConvertOptions, report port.ProgressFunc) (*port.ConvertResult, error) {
	start := time.Now()
	emit := func(stage domain.Stage, processed, total int) {
		if report != nil {
			report(stage, processed, total)
		}
	}

	emit(domain.StageInitializing, 0, 0)

	scratch, err := os.MkdirTemp(c.scratchDir, "convert-*")
	if err != nil {
		return nil, domain.Transient(domain.StepDownload, fmt.Errorf("create scratch dir: %w", err))
	}
	// Scratch is released on every exit path.
	defer func() { _ = os.RemoveAll(scratch) }()

	pdfPath, err := c.fetchSource(ctx, storageRef, scratch)
	if err != nil {
		return nil, err
	}

	emit(domain.StageExtracting, 0, 0)

	if err := c.inspector.Validate(pdfPath); err != nil {
		return nil, err
	}
	total, err := c.inspector.PageCount(pdfPath)
	if err != nil {
		return nil, err
	}

	emit(domain.StageProcessing, 0, total)

	batchSize := runtime.GOMAXPROCS(0)
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	artifacts := make([]port.PageArtifact, total)
	for batchStart := 1; batchStart <= total; batchStart += batchSize {
		// Cancellation is cooperative: checked between batches, never
		// mid-page.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchEnd := batchStart + batchSize - 1
		if batchEnd > total {
			batchEnd = total
		}

		committed := batchStart - 1
		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(batchSize)
		for page := batchStart; page <= batchEnd; page++ {
			g.Go(func() error {
				artifact, err := c.processPage(groupCtx, documentID, pdfPath, page, opts)
				if err != nil {
					return err
				}
				artifacts[page-1] = *artifact
				// Per-page heartbeat; the committed count only
				// advances at batch boundaries.
				emit(domain.StageUploading, committed, total)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		emit(domain.StageProcessing, batchEnd, total)
	}

	emit(domain.StageFinalizing, total, total)

	return &port.ConvertResult{
		PageCount:      total,
		Pages:          artifacts,
		ProcessingTime: time.Since(start),
	}, nil
}

// fetchSource downloads the document into the scratch dir and verifies
// it really is a PDF.
func (c *Converter) fetchSource(ctx context.Context, storageRef, scratch string) (string, error) {
	data, err := c.objects.Download(ctx, storageRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.Permanent(domain.StepDownload, err)
		}
		return "", domain.Transient(domain.StepDownload, err)
	}

	if !mimetype.Detect(data).Is("application/pdf") {
		return "", domain.Permanent(domain.StepDownload, fmt.Errorf("%s is not a PDF", storageRef))
	}

	pdfPath := filepath.Join(scratch, "source.pdf")
	if err := os.WriteFile(pdfPath, data, 0600); err != nil {
		return "", domain.Transient(domain.StepDownload, fmt.Errorf("stage source: %w", err))
	}
	return pdfPath, nil
}

func (c *Converter) processPage(ctx context.Context, documentID, pdfPath string, pageNumber int, opts port.ConvertOptions) (*port.PageArtifact, error) {
	raw, err := c.rasterizer.RenderPage(ctx, pdfPath, pageNumber, opts.DPI)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transient(domain.StepRasterize, fmt.Errorf("page %d: %w", pageNumber, err))
	}

	optimized, err := optimizePage(raw, opts.Format, opts.Quality)
	if err != nil {
		return nil, domain.Transient(domain.StepOptimize, fmt.Errorf("page %d: %w", pageNumber, err))
	}

	if len(optimized) < minPageBytes {
		logger.Warn.Printf("document %s page %d encoded to %d bytes, possibly blank",
			documentID, pageNumber, len(optimized))
	}

	storagePath := pagePath(documentID, opts.Version, pageNumber, opts.Format)
	if _, err := c.objects.Upload(ctx, storagePath, optimized, contentTypeFor(opts.Format)); err != nil {
		return nil, domain.Transient(domain.StepUpload, fmt.Errorf("page %d: %w", pageNumber, err))
	}

	url, err := c.objects.SignedURL(storagePath, c.urlTTL)
	if err != nil {
		return nil, domain.Transient(domain.StepUpload, fmt.Errorf("sign page %d: %w", pageNumber, err))
	}

	return &port.PageArtifact{
		PageNumber:  pageNumber,
		StoragePath: storagePath,
		URL:         url,
		Format:      opts.Format,
		FileSize:    int64(len(optimized)),
	}, nil
}

// pagePath is the deterministic per-document, per-version, per-page
// object key.
func pagePath(documentID string, version, pageNumber int, format domain.PageFormat) string {
	return fmt.Sprintf("docs/%s/v%d/page-%d.%s", documentID, version, pageNumber, extensionFor(format))
}

func extensionFor(format domain.PageFormat) string {
	switch format {
	case domain.FormatPNG:
		return "png"
	case domain.FormatWebP:
		return "webp"
	default:
		return "jpg"
	}
}

func contentTypeFor(format domain.PageFormat) string {
	switch format {
	case domain.FormatPNG:
		return "image/png"
	case domain.FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

var _ port.DocumentConverter = (*Converter)(nil)
