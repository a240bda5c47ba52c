package gitops_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/ratchet/internal/gitops"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestDiffFiles(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "agent_old.star")
	newPath := filepath.Join(dir, "agent.star")
	os.WriteFile(oldPath, []byte("a\nb\nc\n"), 0o644)
	os.WriteFile(newPath, []byte("a\nB\nc\nd\n"), 0o644)

	patch, err := gitops.DiffFiles(oldPath, newPath)
	if err != nil {
		t.Fatalf("DiffFiles: %v", err)
	}
	if !strings.Contains(string(patch), "+B") {
		t.Errorf("unexpected patch:\n%s", patch)
	}
	stat, err := gitops.DiffStat(patch)
	if err != nil {
		t.Fatalf("DiffStat: %v", err)
	}
	if stat.Files != 1 || stat.Added != 2 || stat.Deleted != 1 {
		t.Errorf("stat = %+v", stat)
	}
	if stat.String() != "1 file(s), +2 -1" {
		t.Errorf("String() = %q", stat.String())
	}
}

func TestDiffFilesIdentical(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	os.WriteFile(a, []byte("same\n"), 0o644)
	os.WriteFile(b, []byte("same\n"), 0o644)
	patch, err := gitops.DiffFiles(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(patch) != 0 {
		t.Errorf("expected empty diff, got %q", patch)
	}
	stat, _ := gitops.DiffStat(patch)
	if stat.String() != "no changes" {
		t.Errorf("String() = %q", stat.String())
	}
}

func TestDiffFilesMissing(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	if _, err := gitops.DiffFiles(filepath.Join(dir, "nope"), filepath.Join(dir, "nada")); err == nil {
		t.Error("expected error for missing files")
	}
}
