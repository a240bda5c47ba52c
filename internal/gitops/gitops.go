// Package gitops renders the change a promotion made to a live artifact as
// a unified diff and summarizes it.
package gitops

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// DiffFiles returns the unified diff from oldPath to newPath. Identical
// files yield an empty diff.
func DiffFiles(oldPath, newPath string) ([]byte, error) {
	for _, p := range []string{oldPath, newPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}
	cmd := exec.Command("git", "diff", "--no-index", "--no-color", "--", oldPath, newPath)
	out, err := cmd.Output()
	if err != nil {
		// Exit status 1 means the files differ.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return out, nil
		}
		var stderr []byte
		if exitErr != nil {
			stderr = exitErr.Stderr
		}
		return nil, fmt.Errorf("git diff --no-index: %s: %w", bytes.TrimSpace(stderr), err)
	}
	return out, nil
}

type Stat struct {
	Files   int
	Added   int
	Deleted int
}

func (s Stat) String() string {
	if s.Files == 0 {
		return "no changes"
	}
	return fmt.Sprintf("%d file(s), +%d -%d", s.Files, s.Added, s.Deleted)
}

// DiffStat counts added and deleted lines in a unified diff.
func DiffStat(patch []byte) (Stat, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return Stat{}, nil
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(bytes.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return Stat{}, fmt.Errorf("parsing diff: %w", err)
	}
	var s Stat
	for _, fd := range fileDiffs {
		s.Files++
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					s.Added++
				case strings.HasPrefix(line, "-"):
					s.Deleted++
				}
			}
		}
	}
	return s, nil
}
