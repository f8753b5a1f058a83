// Package validate provides shared validation functions.
package validate

import (
	"fmt"
	"strings"

	"github.com/hay-kot/criterio"
)

// Required validates a value is non-empty after trimming whitespace.
func Required(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

// BranchName validates a value could name a git branch. It applies the
// subset of git check-ref-format rules that can be checked without git.
func BranchName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("branch name is required")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("branch name has an invalid suffix")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "@{") || strings.Contains(name, "//") {
		return fmt.Errorf("branch name contains an invalid sequence")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("branch name contains invalid character %q", r)
		}
	}
	return nil
}

// LineRange validates a 1-based inclusive line range.
func LineRange(start, end int) error {
	if start < 1 {
		return fmt.Errorf("start line must be at least 1")
	}
	if end < start {
		return fmt.Errorf("end line %d is before start line %d", end, start)
	}
	return nil
}

// BranchNameField returns a criterio validator for branch names.
func BranchNameField(field, name string) error {
	return criterio.Run(field, name, BranchName)
}

// RequiredField returns a criterio validator for required values.
func RequiredField(field, value string) error {
	return criterio.Run(field, value, Required)
}
