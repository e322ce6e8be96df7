package expense

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for receipt image storage. Images are scoped
// to the expense they were uploaded for.
type Storage interface {
	// Save stores an expense's receipt image and returns its storage path.
	Save(code, filename string, data []byte) (string, error)

	// Get retrieves a stored receipt image by path.
	Get(path string) ([]byte, error)

	// Delete removes a stored receipt image.
	Delete(path string) error
}

// LocalStorage implements the Storage interface on the local filesystem, one
// subdirectory per expense.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save stores the image under the expense's subdirectory and returns the
// path relative to the storage root.
func (l *LocalStorage) Save(code, filename string, data []byte) (string, error) {
	dir := filepath.Join(l.basePath, code)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating expense directory: %w", err)
	}

	relPath := filepath.Join(code, filename)
	if err := os.WriteFile(filepath.Join(l.basePath, relPath), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return relPath, nil
}

// Get retrieves a stored receipt image.
func (l *LocalStorage) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a stored receipt image.
func (l *LocalStorage) Delete(path string) error {
	if err := os.Remove(filepath.Join(l.basePath, path)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
