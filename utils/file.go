package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// RemoveFileNoError removes the file at path if it exists. Errors are suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// SafeJoinDir joins parent and name but fails if the result is not inside parent. Names read
// from configs or command lines go through it before touching the dataset.
func SafeJoinDir(parent, name string) (string, error) {
	res := filepath.Join(parent, name)
	if !strings.HasPrefix(filepath.Clean(res), filepath.Clean(parent)+string(os.PathSeparator)) {
		return res, errors.Errorf("%q escapes %s", name, parent)
	}
	return res, nil
}
