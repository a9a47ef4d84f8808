package resume

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"ftplite/internal/config"
	"ftplite/internal/errors"
)

// Tracker persists the last confirmed byte offset per file name in a single
// JSON document. Every update rewrites the whole document, so the tracker is
// only safe when one transfer at a time runs against it; the mutex covers
// callers in the same process, nothing covers other processes.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// NewTracker returns a tracker backed by the JSON file at path. The file is
// created lazily on the first update.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// Path returns the backing file
func (t *Tracker) Path() string {
	return t.path
}

// Offset returns the recorded offset for name, or 0 when none exists.
func (t *Tracker) Offset(name string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return 0, err
	}
	return records[name], nil
}

// SetOffset records offset for name.
func (t *Tracker) SetOffset(name string, offset int64) error {
	if offset < 0 {
		return errors.NewValidationError("offset", offset, "cannot be negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return err
	}
	records[name] = offset
	return t.save(records)
}

// Clear removes the record for name. Clearing an absent record is not an error.
func (t *Tracker) Clear(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return err
	}
	if _, ok := records[name]; !ok {
		return nil
	}
	delete(records, name)
	return t.save(records)
}

// Records returns a copy of every stored record
func (t *Tracker) Records() (map[string]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.load()
}

// Names returns the file names with an incomplete transfer, sorted.
func (t *Tracker) Names() ([]string, error) {
	records, err := t.Records()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (t *Tracker) load() (map[string]int64, error) {
	records := make(map[string]int64)

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, errors.NewTransferIOError("read_resume", t.path, err)
	}
	if len(data) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.NewTransferIOError("unmarshal_resume", t.path, err)
	}
	return records, nil
}

// save writes the document to a temporary sibling and renames it into place so
// a crash mid-write never leaves a truncated file behind.
func (t *Tracker) save(records map[string]int64) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return errors.NewTransferIOError("marshal_resume", t.path, err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, config.DirPerms); err != nil {
		return errors.NewTransferIOError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return errors.NewTransferIOError("write_resume", t.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewTransferIOError("write_resume", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewTransferIOError("write_resume", tmpName, err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return errors.NewTransferIOError("rename_resume", t.path, err)
	}

	return nil
}
