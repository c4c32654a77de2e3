package localfs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/docshare/convertd/internal/domain"
	"github.com/docshare/convertd/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path is invalid")
)

// Store is a local-directory object store. Retrieval URLs are signed
// with a keyed MAC so the serving layer can verify them without a
// database lookup.
type Store struct {
	root   string
	secret []byte
}

func NewStore(root string, secret []byte) (*Store, error) {
	if len(secret) == 0 || len(secret) > 64 {
		return nil, errors.New("signing secret must be 1-64 bytes")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &Store{root: root, secret: secret}, nil
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	if filepath.IsAbs(path) {
		return ErrInvalidPath
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidPath
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", fmt.Errorf("upload %q: %w", path, err)
	}

	target := filepath.Join(s.root, path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", path, err)
	}

	// Write through a temp file so readers never see a partial object.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	return path, nil
}

func (s *Store) Download(ctx context.Context, path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, fmt.Errorf("download %q: %w", path, err)
	}
	data, err := os.ReadFile(filepath.Join(s.root, path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("download %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) SignedURL(path string, ttl time.Duration) (string, error) {
	if err := validatePath(path); err != nil {
		return "", fmt.Errorf("sign %q: %w", path, err)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("/files/%s?expires=%d&sig=%s", path, expires, s.sign(path, expires)), nil
}

// Verify checks a signature produced by SignedURL. Used by the serving
// layer outside this module.
func (s *Store) Verify(path string, expires int64, sig string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	return sig == s.sign(path, expires)
}

func (s *Store) sign(path string, expires int64) string {
	mac, err := blake2b.New256(s.secret)
	if err != nil {
		// Key length is validated in NewStore.
		panic(err)
	}
	mac.Write([]byte(path))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	if err := os.Remove(filepath.Join(s.root, path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" {
		if err := validatePath(prefix); err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
	}

	var entries []string
	base := filepath.Join(s.root, prefix)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return entries, nil
}

var _ port.ObjectStore = (*Store)(nil)
