// Package kvstore implements the persistent key-value store: one JSON
// document per entity under a root directory, written with a
// write-to-temp-then-rename sequence so readers never observe a partial
// file. It generalizes the teacher's repo-package CRUD shape
// (Create/Get/List/Update plus ErrNotFound/ErrAlreadyExists/ErrInvalidState)
// from SQL rows to flat JSON files.
package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/relayforge/relay/internal/errs"
)

// Store persists JSON documents of one entity kind under dir. A key that is
// empty, "." or "..", or contains a path separator is rejected with a
// ValidationError before touching the filesystem.
type Store struct {
	dir  string
	perm os.FileMode

	mu    sync.Mutex // guards the per-key lock map itself
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithFilePerm overrides the default 0644 file permission (e.g. 0600 for
// the OAuth token store).
func WithFilePerm(perm os.FileMode) Option {
	return func(s *Store) { s.perm = perm }
}

// New creates a Store rooted at dir, creating dir (and its parents) with
// dirPerm if it does not already exist.
func New(dir string, dirPerm os.FileMode, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errs.New(errs.PersistenceError, "create store directory", false, err)
	}
	s := &Store{dir: dir, perm: 0o644, locks: make(map[string]*sync.Mutex)}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || key == "." || key == ".." {
		return "", errs.New(errs.ValidationError, fmt.Sprintf("invalid key %q", key), false, nil)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Create writes value under key, failing with an errs.AlreadyExists error if
// a document is already present — the filesystem analog of a unique-key
// insert.
func (s *Store) Create(key string, value any) error {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	p, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return errs.New(errs.AlreadyExists, key, false, nil)
	}
	return s.writeLocked(p, value)
}

// Put writes value under key unconditionally, creating or overwriting.
func (s *Store) Put(key string, value any) error {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	p, err := s.path(key)
	if err != nil {
		return err
	}
	return s.writeLocked(p, value)
}

// writeLocked performs the write-to-temp-then-rename sequence. Caller must
// hold the per-key lock.
func (s *Store) writeLocked(p string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errs.New(errs.PersistenceError, "marshal", false, err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, s.perm); err != nil {
		return errs.New(errs.PersistenceError, "write temp file", false, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errs.New(errs.PersistenceError, "rename temp file", false, err)
	}
	return nil
}

// Get reads the document stored under key into dest, which must be a
// pointer. Returns an errs.NotFound error if absent.
func (s *Store) Get(key string, dest any) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.NotFound, key, false, nil)
		}
		return errs.New(errs.PersistenceError, "read file", false, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errs.New(errs.PersistenceError, "unmarshal", false, err)
	}
	return nil
}

// Delete removes the document stored under key. Idempotent: deleting an
// absent key is not an error.
func (s *Store) Delete(key string) error {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.PersistenceError, "remove file", false, err)
	}
	return nil
}

// Exists reports whether a document is stored under key.
func (s *Store) Exists(key string) bool {
	p, err := s.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// List returns the keys of every document currently stored, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.New(errs.PersistenceError, "read directory", false, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// FreeBytes reports free space on the filesystem backing the store's
// directory, used by the Session Manager's pre-write disk-space check.
func (s *Store) FreeBytes() (uint64, error) {
	return freeBytes(s.dir)
}
