package state

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Store reads and writes the recovery document at a fixed path.
//
// The driver calls it strictly sequentially, once per step, so there is
// no locking. The document layout is plain JSON so operators can inspect
// and, if they must, edit it between runs.
type Store struct {
	path string
}

// NewStore creates a store for the document at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path of the recovery document
func (s *Store) Path() string {
	return s.path
}

// Load the recovery state. A missing document is a fresh start and yields
// an empty state. An unreadable or unparsable document yields a
// CorruptStateError and the run must not proceed.
func (s *Store) Load() (*Recovery, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}

	var rec Recovery
	if err := json.Unmarshal(buf, &rec); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	if rec.Steps == nil {
		rec.Steps = make(map[string]Outcome)
	}
	return &rec, nil
}

// Persist the recovery state durably. The document is written to a
// temporary file in the same directory, synced and renamed over the
// previous one, so a crash mid-write never corrupts the last checkpoint.
func (s *Store) Persist(rec *Recovery) error {
	buf, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".recovery-*.json")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}
