// Package fsutil provides file system utility functions.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FindFilesByExtension returns every file ending with extension under the
// given roots. Each root is walked in lexical order; a root that is itself a
// file is returned when it matches. Paths reachable from several roots are
// returned once, at their first occurrence.
func FindFilesByExtension(extension string, roots ...string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	seen := make(map[string]struct{})
	add := func(path string) {
		clean := filepath.Clean(path)
		if _, dup := seen[clean]; dup {
			return
		}
		seen[clean] = struct{}{}
		files = append(files, clean)
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", root, err)
		}
		if !info.IsDir() {
			if strings.HasSuffix(info.Name(), extension) {
				add(root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
