// Package prompt loads the system prompt prepended to every LLM request.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// Load reads the system prompt at path and trims surrounding whitespace.
// An empty path or a missing file yields an empty prompt, which disables the system turn.
func Load(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		slog.Debug("prompt.Load: no system prompt path configured")
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("prompt.Load: system prompt file not found, continuing without one", "path", path)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	slog.Info("prompt.Load: system prompt loaded", "path", path, "chars", len(text))
	return text, nil
}
