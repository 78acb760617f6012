// Package snapshot exports read-optimized copies of a branch's tip content.
// Each export is staged in a uniquely named data directory and published by
// atomically swapping a symlink, so readers always see either the previous
// complete snapshot or the new complete snapshot, never a mixture.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/wherr"
)

// dataDirName holds the staged and published export directories the
// per-branch symlinks point into.
const dataDirName = ".data"

// Manifest is the per-snapshot metadata record the display layer reads
// alongside the rendered content.
type Manifest struct {
	Branch      string              `yaml:"branch"`
	Commit      string              `yaml:"commit"`
	GeneratedAt time.Time           `yaml:"generated_at"`
	Files       map[string]FileMeta `yaml:"files"`
}

// FileMeta is the derived history metadata for one source file.
type FileMeta struct {
	LastCommit   CommitMeta `yaml:"last_commit"`
	Contributors []string   `yaml:"contributors"`
	CommitCount  int        `yaml:"commit_count"`
}

// CommitMeta describes the commit that last touched a file.
type CommitMeta struct {
	Hash    string    `yaml:"hash"`
	Author  string    `yaml:"author"`
	Email   string    `yaml:"email"`
	When    time.Time `yaml:"when"`
	Message string    `yaml:"message"`
}

// Writer generates snapshots from the canonical repository.
type Writer struct {
	repo *repo.Repo
	dir  string
}

// NewWriter creates a Writer publishing under dir.
func NewWriter(r *repo.Repo, dir string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, dataDirName), 0o755); err != nil {
		return nil, wherr.Translate("snapshot init", err)
	}
	return &Writer{repo: r, dir: dir}, nil
}

// Dir returns the snapshot root directory.
func (w *Writer) Dir() string { return w.dir }

// =============================================================================
// Write
// =============================================================================

// Write exports the branch's tip content and metadata, then atomically
// replaces the branch's published snapshot. Any failure before the final
// swap leaves the previous snapshot fully intact and servable.
func (w *Writer) Write(branch string) error {
	if err := validateBranchName(branch); err != nil {
		return err
	}

	tip, err := w.repo.BranchTip(branch)
	if err != nil {
		return err
	}

	exportName := fmt.Sprintf("%s-%s", branch, uuid.NewString())
	exportDir := filepath.Join(w.dir, dataDirName, exportName)

	if err := w.stageExport(branch, tip, exportDir); err != nil {
		os.RemoveAll(exportDir)
		return err
	}

	if err := w.swap(branch, exportName); err != nil {
		os.RemoveAll(exportDir)
		return err
	}

	slog.Debug("snapshot written",
		slog.String("branch", branch),
		slog.String("commit", tip))
	return nil
}

// stageExport writes content and manifest into the not-yet-visible export
// directory.
func (w *Writer) stageExport(branch, tip, exportDir string) error {
	contentDir := filepath.Join(exportDir, "content")
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return wherr.Translate("snapshot stage", err)
	}

	manifest := &Manifest{
		Branch:      branch,
		Commit:      tip,
		GeneratedAt: time.Now().UTC(),
		Files:       make(map[string]FileMeta),
	}

	err := w.repo.TreeFiles(tip, func(path string, content []byte) error {
		if err := writeContentFile(contentDir, path, content); err != nil {
			return err
		}
		meta, err := w.fileMeta(branch, path)
		if err != nil {
			return err
		}
		manifest.Files[path] = meta
		return nil
	})
	if err != nil {
		return err
	}

	return writeManifest(exportDir, manifest)
}

// writeContentFile writes one exported file under the content directory.
func writeContentFile(contentDir, relPath string, content []byte) error {
	full := filepath.Join(contentDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wherr.Translate("snapshot stage", err)
	}
	return wherr.Translate("snapshot stage", os.WriteFile(full, content, 0o644))
}

// fileMeta derives the per-file metadata record from branch history.
func (w *Writer) fileMeta(branch, path string) (FileMeta, error) {
	history, err := w.repo.HistoryOf(branch, path)
	if err != nil {
		return FileMeta{}, err
	}

	return FileMeta{
		LastCommit: CommitMeta{
			Hash:    history.LastCommit.Hash,
			Author:  history.LastCommit.Author,
			Email:   history.LastCommit.Email,
			When:    history.LastCommit.When,
			Message: strings.TrimSpace(history.LastCommit.Message),
		},
		Contributors: history.Contributors,
		CommitCount:  history.CommitCount,
	}, nil
}

// writeManifest serializes the manifest into the export directory.
func writeManifest(exportDir string, manifest *Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return wherr.Translate("snapshot manifest", err)
	}
	return wherr.Translate("snapshot manifest",
		os.WriteFile(filepath.Join(exportDir, "manifest.yaml"), data, 0o644))
}

// =============================================================================
// Atomic Swap
// =============================================================================

// swap publishes the staged export by renaming a fresh symlink over the
// branch's link. rename(2) replaces the old link atomically; only after the
// swap is the previous export's data directory removed.
func (w *Writer) swap(branch, exportName string) error {
	previous := w.currentTarget(branch)

	tmpLink := filepath.Join(w.dir, ".link-"+uuid.NewString())
	target := filepath.Join(dataDirName, exportName)

	if err := os.Symlink(target, tmpLink); err != nil {
		return wherr.Translate("snapshot swap", err)
	}

	linkPath := filepath.Join(w.dir, branch)
	if err := os.Rename(tmpLink, linkPath); err != nil {
		os.Remove(tmpLink)
		return wherr.Translate("snapshot swap", err)
	}

	if previous != "" && previous != target {
		os.RemoveAll(filepath.Join(w.dir, previous))
	}
	return nil
}

// currentTarget returns the relative data directory the branch's link
// points at, or empty when no snapshot exists.
func (w *Writer) currentTarget(branch string) string {
	target, err := os.Readlink(filepath.Join(w.dir, branch))
	if err != nil {
		return ""
	}
	return target
}

// =============================================================================
// Remove and List
// =============================================================================

// Remove deletes a branch's published snapshot and its data directory.
// Removing a branch with no snapshot is a no-op.
func (w *Writer) Remove(branch string) error {
	if err := validateBranchName(branch); err != nil {
		return err
	}

	target := w.currentTarget(branch)
	if err := os.Remove(filepath.Join(w.dir, branch)); err != nil && !os.IsNotExist(err) {
		return wherr.Translate("snapshot remove", err)
	}
	if target != "" {
		os.RemoveAll(filepath.Join(w.dir, target))
	}
	return nil
}

// List returns the branch names with a published snapshot.
func (w *Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, wherr.Translate("snapshot list", err)
	}

	var branches []string
	for _, entry := range entries {
		name := entry.Name()
		if name == dataDirName || strings.HasPrefix(name, ".link-") {
			continue
		}
		branches = append(branches, name)
	}
	return branches, nil
}

// Read returns the published content of one file in a branch's snapshot.
func (w *Writer) Read(branch, relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, branch, "content", relPath))
	if err != nil {
		return nil, wherr.Translate("snapshot read", err)
	}
	return data, nil
}

// ReadManifest returns a branch's published manifest.
func (w *Writer) ReadManifest(branch string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, branch, "manifest.yaml"))
	if err != nil {
		return nil, wherr.Translate("snapshot manifest", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, wherr.Translate("snapshot manifest", err)
	}
	return &manifest, nil
}

// validateBranchName rejects names that could escape the snapshot root.
func validateBranchName(branch string) error {
	if branch == "" || strings.ContainsAny(branch, "/\\") ||
		strings.HasPrefix(branch, ".") {
		return wherr.NewValidationError("branch", branch,
			"snapshot names must be flat")
	}
	return nil
}
