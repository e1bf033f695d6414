package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveDir expands a leading ~, makes dir absolute and creates it.
func resolveDir(dir string) (string, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return "", fmt.Errorf("storage path is empty")
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute storage path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}

	return cleanPath, nil
}

// resolveFile resolves path like resolveDir but only creates its parent.
func resolveFile(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("storage path is empty")
	}
	if trimmed == ":memory:" || strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	parent, err := resolveDir(filepath.Dir(expanded))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(expanded)), nil
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}
