package localdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

// Repository resolves document metadata from the object store layout:
// source PDFs live at sources/<id>.pdf under the objects root. The full
// document record (owner, sharing, retention) belongs to the CRUD layer
// outside this daemon.
type Repository struct {
	root string
}

func NewRepository(root string) *Repository {
	return &Repository{root: root}
}

func validateID(documentID string) error {
	if documentID == "" {
		return errors.New("document id is empty")
	}
	if strings.ContainsAny(documentID, "/\\\x00") || documentID == "." || documentID == ".." {
		return fmt.Errorf("document id %q is invalid", documentID)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, documentID string) (*port.DocumentInfo, error) {
	if err := validateID(documentID); err != nil {
		return nil, err
	}

	storageRef := path.Join("sources", documentID+".pdf")
	info, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(storageRef)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("stat document %s: %w", documentID, err)
	}

	return &port.DocumentInfo{
		ID:         documentID,
		SizeBytes:  info.Size(),
		StorageRef: storageRef,
	}, nil
}

var _ port.DocumentRepository = (*Repository)(nil)
