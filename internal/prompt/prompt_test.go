package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTrimsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system_prompt.txt")
	if err := os.WriteFile(path, []byte("\n  You are a helpful assistant.\n\n"), 0o600); err != nil {
		t.Fatalf("failed to write prompt: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != "You are a helpful assistant." {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if got != "" {
		t.Errorf("expected empty prompt, got %q", got)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	got, err := Load("   ")
	if err != nil || got != "" {
		t.Errorf("expected empty prompt without error, got %q (err=%v)", got, err)
	}
}

func TestLoadDirectoryFails(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error when path is a directory")
	}
}

func TestLoadWhitespaceOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.txt")
	if err := os.WriteFile(path, []byte(" \n\t "), 0o600); err != nil {
		t.Fatalf("failed to write prompt: %v", err)
	}
	got, err := Load(path)
	if err != nil || got != "" {
		t.Errorf("expected empty prompt, got %q (err=%v)", got, err)
	}
}
