package config

import (
	"fmt"
	"os"
	"path/filepath"
)

func validatePortNumber(input int64) error {
	if input < 0 {
		return fmt.Errorf("port numbers cannot be negative. Received: %d", input)
	}
	if input > 65535 {
		return fmt.Errorf("port numbers cannot be larger than 65535. Received: %d", input)
	}
	return nil
}

// validateExistsOrEmptyPath accepts an empty string (the field is unused) or
// a non-empty path whose parent directory already exists. It deliberately
// does not require the path itself to exist: credential paths are allowed
// to appear after the process has already started watching them.
func validateExistsOrEmptyPath(input string) error {
	if input == "" {
		return nil
	}

	dir := filepath.Dir(input)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("parent directory of '%s' is not accessible: %w", input, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("parent of '%s' is not a directory", input)
	}
	return nil
}
