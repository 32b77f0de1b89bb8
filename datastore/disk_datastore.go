package datastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type (
	DiskDataStore struct {
		rootPath string
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: rootPath,
	}

	return dds, nil
}

func (dds *DiskDataStore) WriteFile(_ context.Context, path string, data io.Reader) (int64, error) {
	fullPath := filepath.Join(dds.rootPath, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return 0, fmt.Errorf("error in os.Create: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(f, data)
	if err != nil {
		return n, fmt.Errorf("error in io.Copy: %w", err)
	}
	return n, nil
}

func (dds *DiskDataStore) ReadFile(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(dds.rootPath, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return b, nil
}

func (dds *DiskDataStore) Shutdown(_ context.Context) error {
	return nil
}
