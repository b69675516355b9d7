package workspace

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Resource guard defaults.
const (
	// DefaultMaxBytes caps total workspace disk usage at 5 GiB.
	DefaultMaxBytes = 5 << 30

	// DefaultMinFreeMemory is the minimum fraction of system memory that
	// must remain available before new work is admitted.
	DefaultMinFreeMemory = 0.10

	// diskCheckTTL bounds how often the workspace tree is re-walked.
	diskCheckTTL = 5 * time.Second
)

// GuardConfig controls resource limits.
type GuardConfig struct {
	// MaxBytes caps workspace disk usage. Default: 5 GiB.
	MaxBytes uint64

	// MinFreeMemory is the minimum available memory fraction. Default: 0.10.
	MinFreeMemory float64

	// MeminfoPath overrides /proc/meminfo, for tests.
	MeminfoPath string
}

// ResourceGuard enforces disk and memory limits before expensive operations.
// Disk usage is measured by walking the workspace tree; results are cached
// briefly so per-tool-call checks stay cheap.
type ResourceGuard struct {
	ws  *Workspace
	cfg GuardConfig

	mu          sync.Mutex
	cachedUsage uint64
	checkedAt   time.Time
}

// NewResourceGuard builds a guard over the given workspace.
func NewResourceGuard(ws *Workspace, cfg GuardConfig) *ResourceGuard {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MinFreeMemory == 0 {
		cfg.MinFreeMemory = DefaultMinFreeMemory
	}
	if cfg.MeminfoPath == "" {
		cfg.MeminfoPath = "/proc/meminfo"
	}
	return &ResourceGuard{ws: ws, cfg: cfg}
}

// Check runs the disk and memory checks and returns the first limit tripped.
func (g *ResourceGuard) Check() error {
	if err := g.CheckDisk(); err != nil {
		return err
	}
	return g.CheckMemory()
}

// CheckDisk verifies workspace usage is within MaxBytes.
func (g *ResourceGuard) CheckDisk() error {
	usage, err := g.usage()
	if err != nil {
		return err
	}
	if usage > g.cfg.MaxBytes {
		return &ResourceError{Kind: "disk", Used: usage, Limit: g.cfg.MaxBytes}
	}
	return nil
}

// CheckMemory verifies available system memory stays above MinFreeMemory.
// On platforms without /proc/meminfo the check is skipped.
func (g *ResourceGuard) CheckMemory() error {
	total, available, ok := readMeminfo(g.cfg.MeminfoPath)
	if !ok || total == 0 {
		return nil
	}
	free := float64(available) / float64(total)
	if free < g.cfg.MinFreeMemory {
		return &ResourceError{
			Kind:  "memory",
			Used:  uint64(free * 100),
			Limit: uint64(g.cfg.MinFreeMemory * 100),
		}
	}
	return nil
}

// Usage returns the current measured workspace size in bytes.
func (g *ResourceGuard) Usage() (uint64, error) {
	return g.usage()
}

func (g *ResourceGuard) usage() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.checkedAt) < diskCheckTTL {
		return g.cachedUsage, nil
	}

	var total uint64
	err := filepath.WalkDir(g.ws.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files can vanish mid-walk; skip rather than fail the check.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, err
	}

	g.cachedUsage = total
	g.checkedAt = time.Now()
	return total, nil
}

// readMeminfo parses MemTotal and MemAvailable from a meminfo-format file.
// Values are returned in bytes.
func readMeminfo(path string) (total, available uint64, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	if total == 0 || available == 0 {
		return 0, 0, false
	}
	return total, available, true
}
