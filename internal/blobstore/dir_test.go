package blobstore

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saviobatista/geodata-pusher/internal/testutils"
)

func newStore(t *testing.T) *DirStore {
	t.Helper()
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore() failed: %v", err)
	}
	return store
}

func readBlob(t *testing.T, store *DirStore, name string) string {
	t.Helper()
	rc, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", name, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			t.Errorf("Failed to close blob: %v", err)
		}
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Failed to read blob: %v", err)
	}
	return string(data)
}

func TestNewDirStore_Errors(t *testing.T) {
	if _, err := NewDirStore(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewDirStore() should fail for a missing directory")
	}

	file := filepath.Join(t.TempDir(), "file.json")
	if err := os.WriteFile(file, []byte("{}"), 0o600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if _, err := NewDirStore(file); err == nil {
		t.Error("NewDirStore() should fail for a regular file")
	}
}

func TestDirStore_ListFiltersByPrefix(t *testing.T) {
	store := newStore(t)

	names := []string{
		"YEAR=2021/MONTH=07/DAY=14/HOUR=03/b.json",
		"YEAR=2021/MONTH=07/DAY=14/HOUR=03/a.json",
		"YEAR=2021/MONTH=07/DAY=15/HOUR=00/c.json",
		"YEAR=2021/MONTH=08/DAY=01/HOUR=00/d.json",
		"YEAR=2022/MONTH=01/DAY=01/HOUR=00/e.json",
	}
	for _, name := range names {
		if err := store.Put(name, strings.NewReader(testutils.MockStream(1))); err != nil {
			t.Fatalf("Put(%s) failed: %v", name, err)
		}
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"YEAR=2021/MONTH=07/DAY=14", []string{names[1], names[0]}},
		{"YEAR=2021/MONTH=07", []string{names[1], names[0], names[2]}},
		{"YEAR=2021", []string{names[1], names[0], names[2], names[3]}},
		{"YEAR=2023", nil},
		{"", []string{names[1], names[0], names[2], names[3], names[4]}},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			blobs, err := store.List(context.Background(), tt.prefix)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if len(blobs) != len(tt.want) {
				t.Fatalf("Expected %d blobs, got %d", len(tt.want), len(blobs))
			}
			for i, blob := range blobs {
				if blob.Name != tt.want[i] {
					t.Errorf("blob %d: expected %s, got %s", i, tt.want[i], blob.Name)
				}
				if blob.Size == 0 {
					t.Errorf("blob %s should have a size", blob.Name)
				}
				if blob.LastModified.IsZero() {
					t.Errorf("blob %s should have a modification time", blob.Name)
				}
			}
		})
	}
}

func TestDirStore_OpenPlainAndCompressed(t *testing.T) {
	store := newStore(t)
	content := testutils.MockStream(3)

	if err := store.Put("YEAR=2021/plain.json", strings.NewReader(content)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Put("YEAR=2021/packed.json.gz", strings.NewReader(content)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if got := readBlob(t, store, "YEAR=2021/plain.json"); got != content {
		t.Errorf("Unexpected plain content: %q", got)
	}
	if got := readBlob(t, store, "YEAR=2021/packed.json.gz"); got != content {
		t.Errorf("Unexpected decompressed content: %q", got)
	}

	// The compressed blob is stored as gzip on disk
	file, err := os.Open(filepath.Join(store.root, "YEAR=2021", "packed.json.gz"))
	if err != nil {
		t.Fatalf("Failed to open compressed file: %v", err)
	}
	defer file.Close()
	if _, err := gzip.NewReader(file); err != nil {
		t.Errorf("Stored blob is not gzip: %v", err)
	}
}

func TestDirStore_OpenErrors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Open(ctx, "missing.json"); err == nil {
		t.Error("Open() should fail for a missing blob")
	}
	if _, err := store.Open(ctx, "../outside.json"); err == nil {
		t.Error("Open() should reject names escaping the root")
	}

	if err := os.WriteFile(filepath.Join(store.root, "broken.gz"), []byte("not gzip"), 0o600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if _, err := store.Open(ctx, "broken.gz"); err == nil {
		t.Error("Open() should fail for a corrupt gzip blob")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Open(cancelled, "missing.json"); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDirStore_ListCancelled(t *testing.T) {
	store := newStore(t)
	if err := store.Put("a.json", strings.NewReader("{}\n")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.List(ctx, ""); err == nil {
		t.Error("List() should fail when the context is cancelled")
	}
}

func TestDirStore_PutInvalidName(t *testing.T) {
	store := newStore(t)

	for _, name := range []string{"", "../x.json", "/abs/x.json"} {
		if err := store.Put(name, strings.NewReader("{}")); err == nil {
			t.Errorf("Put(%q) should fail", name)
		}
	}
}
