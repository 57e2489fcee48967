package cache

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore persists JSON snapshots on local disk. Writes go to a temp file
// in the same directory and are renamed into place, so readers never see a
// partial snapshot.
type FileStore struct {
	logger *zap.Logger
}

func NewFileStore(logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{logger: logger}
}

// Load decodes the file at path into dest. A missing file reports
// found=false with no error.
func (s *FileStore) Load(path string, dest any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("snapshot not found", zap.String("path", path))
			return false, nil
		}
		return false, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return true, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return true, nil
}

// Save writes value as indented JSON, creating parent directories.
func (s *FileStore) Save(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing snapshot %s: %w", path, err)
	}

	s.logger.Debug("snapshot saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
