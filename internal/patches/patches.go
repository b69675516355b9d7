// Package patches stores proposed patches as reviewable artifacts. Each
// patch is one directory holding the plan, the unified diff, and the test
// notes, with a metadata manifest tracking its review status. Agents propose
// changes to project files through patches instead of writing them directly.
package patches

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/anvil/internal/observability"
)

// Status is a patch's review state.
type Status string

const (
	// StatusProposed is the initial state.
	StatusProposed Status = "proposed"

	// StatusApplied means the diff was applied to the target files.
	StatusApplied Status = "applied"

	// StatusTested means the applied patch passed its tests.
	StatusTested Status = "tested"

	// StatusFailed means applying or testing failed.
	StatusFailed Status = "failed"

	// StatusRejected means a reviewer declined the patch.
	StatusRejected Status = "rejected"
)

var validStatus = map[Status]bool{
	StatusProposed: true,
	StatusApplied:  true,
	StatusTested:   true,
	StatusFailed:   true,
	StatusRejected: true,
}

// ErrPatchNotFound indicates an unknown patch id.
var ErrPatchNotFound = errors.New("patch not found")

// File names inside a patch directory.
const (
	PlanFile     = "plan.md"
	DiffFile     = "patch.diff"
	TestsFile    = "tests.md"
	MetadataFile = "metadata.json"
)

// Patch is the metadata manifest persisted as metadata.json.
type Patch struct {
	PatchID      string    `json:"patch_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	Status       Status    `json:"status"`
	PlanFile     string    `json:"plan_file"`
	DiffFile     string    `json:"diff_file"`
	TestsFile    string    `json:"tests_file"`
	TargetFiles  []string  `json:"target_files"`
	Description  string    `json:"description"`
	ErrorMessage *string   `json:"error_message"`
}

// Proposal is the input to Create.
type Proposal struct {
	// Title names the patch; it also feeds the id slug.
	Title string

	// Description explains the change.
	Description string

	// TargetFiles lists the project files the diff touches.
	TargetFiles []string

	// Plan, Diff, and Tests are the artifact bodies. Diff is a unified diff.
	Plan  string
	Diff  string
	Tests string
}

// Store keeps patch directories under one root.
type Store struct {
	mu     sync.Mutex
	root   string
	logger *observability.Logger

	// now is replaceable for deterministic ids in tests.
	now func() time.Time
}

// NewStore creates the patch root when absent.
func NewStore(root string, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, logger: logger, now: time.Now}, nil
}

// Create writes a new patch directory and its manifest, status proposed.
func (s *Store) Create(p Proposal) (*Patch, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, errors.New("patch title is required")
	}
	if strings.TrimSpace(p.Diff) == "" {
		return nil, errors.New("patch diff is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), slugify(p.Title))
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	files := map[string]string{
		PlanFile:  p.Plan,
		DiffFile:  p.Diff,
		TestsFile: p.Tests,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			return nil, err
		}
	}

	patch := &Patch{
		PatchID:     id,
		Title:       p.Title,
		CreatedAt:   now,
		Status:      StatusProposed,
		PlanFile:    PlanFile,
		DiffFile:    DiffFile,
		TestsFile:   TestsFile,
		TargetFiles: p.TargetFiles,
		Description: p.Description,
	}
	if patch.TargetFiles == nil {
		patch.TargetFiles = []string{}
	}
	if err := s.writeManifest(patch); err != nil {
		return nil, err
	}
	return patch, nil
}

// UpdateStatus transitions a patch and records the error message for failed
// transitions.
func (s *Store) UpdateStatus(id string, to Status, errMsg string) (*Patch, error) {
	if !validStatus[to] {
		return nil, fmt.Errorf("invalid patch status %q", to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	patch, err := s.readManifest(id)
	if err != nil {
		return nil, err
	}
	patch.Status = to
	if errMsg != "" {
		patch.ErrorMessage = &errMsg
	}
	if err := s.writeManifest(patch); err != nil {
		return nil, err
	}
	return patch, nil
}

// Get loads one patch manifest.
func (s *Store) Get(id string) (*Patch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readManifest(id)
}

// List loads every patch manifest, ordered by id (and so by creation time).
func (s *Store) List() ([]*Patch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []*Patch
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		patch, err := s.readManifest(e.Name())
		if err != nil {
			// A directory without a manifest is not a patch; skip it.
			continue
		}
		out = append(out, patch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatchID < out[j].PatchID })
	return out, nil
}

// Dir returns the directory holding a patch's artifacts.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) readManifest(id string) (*Patch, error) {
	data, err := os.ReadFile(filepath.Join(s.root, id, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPatchNotFound, id)
		}
		return nil, err
	}
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse patch manifest %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) writeManifest(p *Patch) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.root, p.PatchID, MetadataFile), data, 0o644)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify reduces a title to a short id-safe slug.
func slugify(title string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "patch"
	}
	return slug
}
