package workspace

import (
	"io/fs"
	"path/filepath"
)

// dirSize sums file sizes under dir. Unreadable entries are skipped; the
// number is an accounting aid, not a quota.
func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// StorageUsedBytes re-scans one workspace tree.
func (s *Store) StorageUsedBytes(workspaceID string) int64 {
	return dirSize(s.WorkspaceDir(workspaceID))
}

// TotalStorageBytes re-scans the whole root.
func (s *Store) TotalStorageBytes() int64 {
	return dirSize(s.root)
}
