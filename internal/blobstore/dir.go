package blobstore

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/saviobatista/geodata-pusher/internal/types"
)

// DirStore serves blobs from a local directory. Blob names are slash
// separated paths relative to the root, so a tree laid out as
// YEAR=2021/MONTH=07/... matches the same prefixes as the container.
// Names ending in .gz are decompressed on Open.
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at dir
func NewDirStore(dir string) (*DirStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blob directory %s is not a directory", dir)
	}
	return &DirStore{root: dir}, nil
}

// List returns every regular file whose name starts with prefix, sorted by name
func (s *DirStore) List(ctx context.Context, prefix string) ([]types.BlobInfo, error) {
	var blobs []types.BlobInfo

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		blobs = append(blobs, types.BlobInfo{
			Name:         name,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

// Open opens a blob for reading
func (s *DirStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // path is confined to the store root
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	if !strings.HasSuffix(name, ".gz") {
		return file, nil
	}

	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open gzip blob: %w", err)
	}
	return &gzipBlob{Reader: gz, file: file}, nil
}

// Put writes a blob, compressing it when the name ends in .gz
func (s *DirStore) Put(name string, r io.Reader) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	//nolint:gosec // path is confined to the store root
	target, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	defer target.Close()

	if !strings.HasSuffix(name, ".gz") {
		if _, err := io.Copy(target, r); err != nil {
			return fmt.Errorf("failed to write blob: %w", err)
		}
		return target.Close()
	}

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, r); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	// Close the gzip writer to ensure all data is written
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to compress blob: %w", err)
	}
	return target.Close()
}

func (s *DirStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.root, clean), nil
}

type gzipBlob struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipBlob) Close() error {
	gerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gerr
}
