package persist

import (
	"path/filepath"
	"strings"

	"github.com/dobrovols/trainctl/pkg/clierr"
)

// CheckConflict fails when path already holds a file and overwrite is false.
func CheckConflict(fs FileSystem, path string, overwrite bool) error {
	if overwrite {
		return nil
	}
	exists, err := fs.IsFile(path)
	if err != nil {
		return clierr.PersistenceConflict(path, "stat: %v", err)
	}
	if exists {
		return clierr.PersistenceConflict(path,
			"refusing to overwrite the config of a previous run; delete it, disable config saving, or enable overwriting")
	}
	return nil
}

// Save writes tree to path in the format implied by its extension, creating the parent directory.
func Save(fs FileSystem, tree map[string]any, path string, overwrite bool) error {
	if strings.TrimSpace(path) == "" {
		return clierr.PersistenceConflict(path, "empty target path")
	}
	if err := CheckConflict(fs, path, overwrite); err != nil {
		return err
	}
	if err := fs.MakeDirs(filepath.Dir(path), true); err != nil {
		return err
	}
	data, err := Encode(tree, FormatFromPath(path))
	if err != nil {
		return err
	}
	return fs.WriteFile(path, data)
}
