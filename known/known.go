// Package known manages the known-destinations file: every announce the
// transport has verified, so identities can be recalled after a restart.
package known

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Entry is one verified destination.
type Entry struct {
	Destination string    `json:"destination"` // 20 hex characters
	PublicKey   string    `json:"public_key"`  // 128 hex characters
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"` // last advertised link address
	LastSeen    time.Time `json:"last_seen"`
}

// Store holds the known destinations.
type Store struct {
	Entries []Entry `json:"entries"`
}

// ReadFile reads a store from disk. Returns an empty Store if the file does
// not exist.
func ReadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Store{}, nil
	}
	if err != nil {
		return nil, err
	}

	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Lookup returns the entry for a destination hex string.
func (s *Store) Lookup(destination string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Destination == destination {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert adds or replaces an entry matched by Destination. Entries stay
// sorted most recently seen first.
func (s *Store) Upsert(entry Entry) {
	for i, e := range s.Entries {
		if e.Destination == entry.Destination {
			s.Entries[i] = entry
			s.sort()
			return
		}
	}
	s.Entries = append(s.Entries, entry)
	s.sort()
}

func (s *Store) sort() {
	sort.SliceStable(s.Entries, func(i, j int) bool {
		return s.Entries[i].LastSeen.After(s.Entries[j].LastSeen)
	})
}

// WriteFile writes the store to disk atomically using a temporary file and
// rename.
func (s *Store) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".known-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
