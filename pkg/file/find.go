package file

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindByExt lists regular files under dir whose extension is one of exts
// (case-insensitive), sorted by path. A file path is returned as is.
func FindByExt(dir string, exts ...string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = struct{}{}
	}

	var found []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := want[strings.ToLower(filepath.Ext(path))]; ok {
			found = append(found, path)
		}
		return nil
	})
	sort.Strings(found)
	return found, err
}
