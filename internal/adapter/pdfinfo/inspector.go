package pdfinfo

import (
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

// Inspector reads PDF metadata with pdfcpu. Validation failures are
// permanent conversion errors: a corrupt or encrypted file will not get
// better on retry.
type Inspector struct{}

func NewInspector() *Inspector {
	return &Inspector{}
}

func (i *Inspector) PageCount(pdfPath string) (int, error) {
	count, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, domain.Permanent(domain.StepInspect, fmt.Errorf("page count: %w", err))
	}
	if count < 1 {
		return 0, domain.Permanent(domain.StepInspect, errors.New("document has no pages"))
	}
	return count, nil
}

func (i *Inspector) Validate(pdfPath string) error {
	if err := api.ValidateFile(pdfPath, nil); err != nil {
		return domain.Permanent(domain.StepInspect, fmt.Errorf("validate: %w", err))
	}
	return nil
}

var _ port.Inspector = (*Inspector)(nil)
