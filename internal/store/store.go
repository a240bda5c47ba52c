// Package store keeps the live artifact of each kind alongside a history of
// timestamped backups and a scratch area for staged candidates.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoLiveArtifact is returned when an operation needs the live artifact
// and it does not exist.
var ErrNoLiveArtifact = errors.New("no live artifact")

type Kind string

const (
	KindAgent  Kind = "agent"
	KindConfig Kind = "config"
)

const (
	AgentFile  = "agent.star"
	ConfigFile = "config.json"
)

// stampLayout is the UTC timestamp embedded in backup names. Nanosecond
// precision keeps names unique within a round.
const stampLayout = "20060102T150405.000000000"

type Store struct {
	Kind       Kind
	LivePath   string
	HistoryDir string
	StagingDir string
	Prefix     string
	Ext        string

	now func() time.Time
}

// Entry describes one backup file.
type Entry struct {
	Path    string
	Created time.Time
}

// IsZero reports whether e names no backup.
func (e Entry) IsZero() bool { return e.Path == "" }

func New(kind Kind, livePath, stateDir string) *Store {
	base := filepath.Base(livePath)
	ext := filepath.Ext(base)
	return &Store{
		Kind:       kind,
		LivePath:   livePath,
		HistoryDir: filepath.Join(stateDir, "history", string(kind)),
		StagingDir: filepath.Join(stateDir, "staging", string(kind)),
		Prefix:     strings.TrimSuffix(base, ext),
		Ext:        ext,
	}
}

func ForAgent(stateDir string) *Store {
	return New(KindAgent, filepath.Join(stateDir, AgentFile), stateDir)
}

func ForConfig(stateDir string) *Store {
	return New(KindConfig, filepath.Join(stateDir, ConfigFile), stateDir)
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Store) backupName(t time.Time) string {
	return s.Prefix + "_" + t.UTC().Format(stampLayout) + "Z" + s.Ext
}

func (s *Store) parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, s.Prefix+"_") || !strings.HasSuffix(name, "Z"+s.Ext) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, s.Prefix+"_"), "Z"+s.Ext)
	t, err := time.ParseInLocation(stampLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ReadLive returns the live artifact.
func (s *Store) ReadLive() ([]byte, error) {
	data, err := os.ReadFile(s.LivePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s %s: %w", s.Kind, s.LivePath, ErrNoLiveArtifact)
	}
	return data, err
}

// WriteLive replaces the live artifact atomically.
func (s *Store) WriteLive(data []byte) error {
	return writeAtomic(s.LivePath, data)
}

// Backup copies the live artifact into history. It returns a zero Entry
// and no error when there is nothing to back up.
func (s *Store) Backup() (Entry, error) {
	data, err := os.ReadFile(s.LivePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading live %s: %w", s.Kind, err)
	}
	if err := os.MkdirAll(s.HistoryDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("creating history dir: %w", err)
	}

	t := s.clock()
	for {
		path := filepath.Join(s.HistoryDir, s.backupName(t))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			t = t.Add(time.Nanosecond)
			continue
		}
		if err != nil {
			return Entry{}, fmt.Errorf("creating backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return Entry{}, fmt.Errorf("writing backup: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return Entry{}, fmt.Errorf("closing backup: %w", err)
		}
		return Entry{Path: path, Created: t.UTC()}, nil
	}
}

// History lists backups oldest first, ordered by the timestamp encoded in
// their names. Files that do not follow the naming scheme are ignored.
func (s *Store) History() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.HistoryDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		t, ok := s.parseName(de.Name())
		if !ok {
			continue
		}
		entries = append(entries, Entry{Path: filepath.Join(s.HistoryDir, de.Name()), Created: t})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created.Before(entries[j].Created)
	})
	return entries, nil
}

// Latest returns the newest backup.
func (s *Store) Latest() (Entry, bool, error) {
	entries, err := s.History()
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// RestoreLatest overwrites the live artifact with the newest backup. The
// bool is false when there is no history to restore from.
func (s *Store) RestoreLatest() (Entry, bool, error) {
	e, ok, err := s.Latest()
	if err != nil || !ok {
		return Entry{}, false, err
	}
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return e, false, fmt.Errorf("reading backup %s: %w", e.Path, err)
	}
	if err := s.WriteLive(data); err != nil {
		return e, false, fmt.Errorf("restoring %s: %w", e.Path, err)
	}
	return e, true, nil
}

// Revert puts the newest backup back live after saving the current live
// artifact to history, so the replaced version can itself be restored.
// The bool is false when there is no history to revert to.
func (s *Store) Revert() (restored, saved Entry, ok bool, err error) {
	restored, ok, err = s.Latest()
	if err != nil || !ok {
		return Entry{}, Entry{}, false, err
	}
	data, err := os.ReadFile(restored.Path)
	if err != nil {
		return restored, Entry{}, false, fmt.Errorf("reading backup %s: %w", restored.Path, err)
	}
	saved, err = s.Backup()
	if err != nil {
		return restored, Entry{}, false, err
	}
	if err := s.WriteLive(data); err != nil {
		return restored, saved, false, fmt.Errorf("restoring %s: %w", restored.Path, err)
	}
	return restored, saved, true, nil
}

// StageCandidate writes content into the staging area and returns its path.
func (s *Store) StageCandidate(id string, content []byte) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid candidate id %q", id)
	}
	if err := os.MkdirAll(s.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	path := filepath.Join(s.StagingDir, id+s.Ext)
	if err := writeAtomic(path, content); err != nil {
		return "", fmt.Errorf("staging %s: %w", id, err)
	}
	return path, nil
}

// Staged lists the names currently in the staging area.
func (s *Store) Staged() ([]string, error) {
	dirEntries, err := os.ReadDir(s.StagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		names = append(names, de.Name())
	}
	return names, nil
}

// ClearStaged removes everything in the staging area, compiled caches
// included. Clearing an empty area is not an error.
func (s *Store) ClearStaged() error {
	dirEntries, err := os.ReadDir(s.StagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading staging dir: %w", err)
	}
	var errs []error
	for _, de := range dirEntries {
		if err := os.RemoveAll(filepath.Join(s.StagingDir, de.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
