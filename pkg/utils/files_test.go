package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMakeDir(t *testing.T) {
	base := t.TempDir()

	nested := filepath.Join(base, "media", "incoming")
	if err := MakeDir(nested); err != nil {
		t.Fatalf("MakeDir failed: %v", err)
	}
	info, err := os.Stat(nested)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("Expected a directory")
	}

	// creating an existing directory is not an error
	if err := MakeDir(nested); err != nil {
		t.Errorf("MakeDir on existing directory failed: %v", err)
	}
}

func TestListWAVFiles(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"b.wav", "a.WAV", "notes.txt", "c.wav"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	// subdirectories are not descended into
	if err := os.Mkdir(filepath.Join(dir, "nested.wav"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	got, err := ListWAVFiles(dir)
	if err != nil {
		t.Fatalf("ListWAVFiles failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.WAV"),
		filepath.Join(dir, "b.wav"),
		filepath.Join(dir, "c.wav"),
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d files, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("File %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ECHOTRACE_TEST_VALUE", "set")
	if v := GetEnv("ECHOTRACE_TEST_VALUE", "fallback"); v != "set" {
		t.Errorf("Expected env value, got %q", v)
	}
	if v := GetEnv("ECHOTRACE_TEST_MISSING", "fallback"); v != "fallback" {
		t.Errorf("Expected fallback, got %q", v)
	}
}
