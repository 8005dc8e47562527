// Package fsutil provides small filesystem helpers shared by the
// pipeline steps.
package fsutil

import (
	"fmt"
	"os"
)

// Exists checks if a file or directory exists.
func Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// SafeRemove deletes path if it exists. Without force an existing file
// is an error rather than a silent overwrite; the caller's hint tells
// the user how to proceed.
func SafeRemove(path string, force bool, hint string) error {
	if !Exists(path) {
		return nil
	}
	if !force {
		return fmt.Errorf("%s already exists; %s", path, hint)
	}
	return os.Remove(path)
}
