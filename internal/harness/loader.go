package harness

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/signalnine/ratchet/internal/agent"
)

// CacheDir holds compiled agent modules next to their source.
const CacheDir = ".starcache"

var errNestedLoad = errors.New("agent modules may not load other modules")

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// loader resolves load() statements of a harness program. Paths are taken
// relative to the program's directory and each module is executed once.
type loader struct {
	root        string
	predeclared starlark.StringDict
	maxSteps    uint64
	modules     map[string]*loadEntry
}

func newLoader(programPath string, predeclared starlark.StringDict, maxSteps uint64) *loader {
	return &loader{
		root:        filepath.Dir(programPath),
		predeclared: predeclared,
		maxSteps:    maxSteps,
		modules:     make(map[string]*loadEntry),
	}
}

func (l *loader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	path := module
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	if e, ok := l.modules[path]; ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		return e.globals, e.err
	}
	l.modules[path] = nil

	globals, err := l.exec(thread, path)
	l.modules[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}

func (l *loader) exec(parent *starlark.Thread, path string) (starlark.StringDict, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	prog, err := compileCached(path, src, l.predeclared.Has)
	if err != nil {
		return nil, err
	}
	child := &starlark.Thread{
		Name:  "load " + filepath.Base(path),
		Print: parent.Print,
		Load: func(*starlark.Thread, string) (starlark.StringDict, error) {
			return nil, errNestedLoad
		},
	}
	if l.maxSteps > 0 {
		child.SetMaxExecutionSteps(l.maxSteps)
	}
	globals, err := prog.Init(child, l.predeclared)
	globals.Freeze()
	return globals, err
}

// compileCached returns the compiled form of src, reusing a cache entry
// keyed by the source hash when one exists. Cache writes are best effort.
func compileCached(path string, src []byte, isPredeclared func(string) bool) (*starlark.Program, error) {
	sum := sha256.Sum256(src)
	cachePath := filepath.Join(filepath.Dir(path), CacheDir,
		fmt.Sprintf("%s.%x.starc", filepath.Base(path), sum[:8]))

	if f, err := os.Open(cachePath); err == nil {
		prog, err := starlark.CompiledProgram(f)
		f.Close()
		if err == nil {
			return prog, nil
		}
	}

	_, prog, err := starlark.SourceProgramOptions(agent.FileOptions, path, src, isPredeclared)
	if err != nil {
		return nil, err
	}
	if writeCache(cachePath, prog) {
		pruneCache(filepath.Dir(cachePath), filepath.Base(path), filepath.Base(cachePath))
	}
	return prog, nil
}

// pruneCache removes entries for earlier versions of module, keeping keep.
// A module replaced in place, like the live agent after a promotion,
// would otherwise leave one stale entry per version.
func pruneCache(dir, module, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == keep || e.IsDir() {
			continue
		}
		hash, ok := strings.CutPrefix(name, module+".")
		if !ok {
			continue
		}
		hash, ok = strings.CutSuffix(hash, ".starc")
		if !ok || len(hash) != 16 || strings.Contains(hash, ".") {
			continue
		}
		os.Remove(filepath.Join(dir, name))
	}
}

func writeCache(cachePath string, prog *starlark.Program) bool {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return false
	}
	tmp, err := os.CreateTemp(filepath.Dir(cachePath), ".tmp-*")
	if err != nil {
		return false
	}
	if err := prog.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return false
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		os.Remove(tmp.Name())
		return false
	}
	return true
}
