package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// SafeJoin joins only the last element of name onto root.
func SafeJoin(root, name string) string {
	return filepath.Join(root, filepath.Base(name))
}

// UniquePath returns SafeJoin(dir, name), adding "-1", "-2", ... before the
// extension while that path is taken.
func UniquePath(dir, name string) string {
	p := SafeJoin(dir, name)
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
		p = stem + "-" + strconv.Itoa(i) + ext
	}
}
