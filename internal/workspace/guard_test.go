package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckDiskWithinLimit(t *testing.T) {
	ws := newTestWorkspace(t)
	guard := NewResourceGuard(ws, GuardConfig{MaxBytes: 1 << 20})
	if err := guard.CheckDisk(); err != nil {
		t.Fatalf("empty workspace should pass: %v", err)
	}
}

func TestCheckDiskOverLimit(t *testing.T) {
	ws := newTestWorkspace(t)
	path := filepath.Join(ws.Root(), "data", "blob.bin")
	if err := os.WriteFile(path, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	guard := NewResourceGuard(ws, GuardConfig{MaxBytes: 1024})
	err := guard.CheckDisk()
	if !errors.Is(err, ErrResourceLimit) {
		t.Fatalf("expected resource limit error, got %v", err)
	}
	var re *ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResourceError, got %T", err)
	}
	if re.Kind != "disk" {
		t.Fatalf("kind = %s, want disk", re.Kind)
	}
	if re.Used < 2048 {
		t.Fatalf("used = %d, want >= 2048", re.Used)
	}
}

func TestCheckDiskCachesUsage(t *testing.T) {
	ws := newTestWorkspace(t)
	guard := NewResourceGuard(ws, GuardConfig{MaxBytes: 1 << 20})

	if _, err := guard.Usage(); err != nil {
		t.Fatalf("usage: %v", err)
	}

	// A write inside the TTL window is not visible until the cache expires.
	path := filepath.Join(ws.Root(), "data", "late.bin")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	usage, err := guard.Usage()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage != 0 {
		t.Fatalf("cached usage = %d, want 0", usage)
	}
}

func TestCheckMemoryFromMeminfo(t *testing.T) {
	ws := newTestWorkspace(t)
	meminfo := filepath.Join(t.TempDir(), "meminfo")

	// 8 GiB total, 512 MiB available: 6.25% free.
	content := "MemTotal:        8388608 kB\nMemFree:          262144 kB\nMemAvailable:     524288 kB\n"
	if err := os.WriteFile(meminfo, []byte(content), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}

	guard := NewResourceGuard(ws, GuardConfig{MeminfoPath: meminfo, MinFreeMemory: 0.10})
	err := guard.CheckMemory()
	if !errors.Is(err, ErrResourceLimit) {
		t.Fatalf("expected memory limit error, got %v", err)
	}
	var re *ResourceError
	if !errors.As(err, &re) || re.Kind != "memory" {
		t.Fatalf("expected memory ResourceError, got %v", err)
	}
}

func TestCheckMemorySkipsWhenUnreadable(t *testing.T) {
	ws := newTestWorkspace(t)
	guard := NewResourceGuard(ws, GuardConfig{MeminfoPath: filepath.Join(t.TempDir(), "absent")})
	if err := guard.CheckMemory(); err != nil {
		t.Fatalf("missing meminfo should skip check: %v", err)
	}
}

func TestCheckCombined(t *testing.T) {
	ws := newTestWorkspace(t)
	guard := NewResourceGuard(ws, GuardConfig{MaxBytes: 1 << 20})
	if err := guard.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}
