package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferPoolSize != DefaultBufferPoolSize {
		t.Errorf("BufferPoolSize = %d, want %d", cfg.BufferPoolSize, DefaultBufferPoolSize)
	}
	if cfg.VerifyProgressLevel != DefaultVerifyProgressLevel {
		t.Errorf("VerifyProgressLevel = %q, want %q", cfg.VerifyProgressLevel, DefaultVerifyProgressLevel)
	}
	if cfg.FixTimeout != DefaultFixTimeoutMS*time.Millisecond {
		t.Errorf("FixTimeout = %v, want %v", cfg.FixTimeout, DefaultFixTimeoutMS*time.Millisecond)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagestore.yaml")
	yaml := "buffer:\n  pool:\n    size: 4096\nverify:\n  progress:\n    level: detailed\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferPoolSize != 4096 {
		t.Errorf("BufferPoolSize = %d, want 4096", cfg.BufferPoolSize)
	}
	if cfg.VerifyProgressLevel != ProgressDetailed {
		t.Errorf("VerifyProgressLevel = %q, want %q", cfg.VerifyProgressLevel, ProgressDetailed)
	}
	if cfg.CheckpointInterval != DefaultCheckpointIntervalMS*time.Millisecond {
		t.Errorf("CheckpointInterval should keep its default when absent from the file: got %v", cfg.CheckpointInterval)
	}
}

func TestLoadRejectsUnknownProgressLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagestore.yaml")
	if err := os.WriteFile(path, []byte("verify:\n  progress:\n    level: loud\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load should reject an unrecognized verify.progress.level")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/pagestore.yaml"); err == nil {
		t.Fatalf("Load should fail when the config file does not exist")
	}
}
