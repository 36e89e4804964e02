package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileRollbackHandler restores a checkpoint's file-system footprint: any
// file recorded as not existing at checkpoint time is removed. It does not
// restore the prior contents of a file that existed and was since
// overwritten — callers needing byte-for-byte restoration must pair this
// with their own backup store. Grounded on the original's simplified
// rollback handler, which carries the same limitation.
type FileRollbackHandler struct {
	BaseDir string
}

// NewFileRollbackHandler returns a handler rooted at baseDir. Paths in a
// checkpoint's FileState are resolved relative to baseDir when not
// absolute.
func NewFileRollbackHandler(baseDir string) *FileRollbackHandler {
	return &FileRollbackHandler{BaseDir: baseDir}
}

func (h *FileRollbackHandler) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(h.BaseDir, path)
}

// Rollback removes every file the checkpoint recorded as absent.
func (h *FileRollbackHandler) Rollback(cp Checkpoint) error {
	for path, fs := range cp.State.Files {
		if fs.Existed {
			continue
		}
		full := h.resolve(path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("file_handler: remove %s: %w", full, err)
		}
	}
	return nil
}

// CanRollback reports the checkpoint's SafeRollback flag; the paths it
// tracks are not inspected.
func (h *FileRollbackHandler) CanRollback(cp Checkpoint) bool {
	return cp.SafeRollback
}

// Cleanup is a no-op for the file handler; nothing external needs
// releasing once a checkpoint is evicted.
func (h *FileRollbackHandler) Cleanup(cp Checkpoint) error {
	return nil
}
