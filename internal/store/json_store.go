package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/keyed"
	"github.com/nhle/mail-triage/internal/model"
)

const inboxFileVersion = 1

// inboxFile is the on-disk layout of the mailbox.
type inboxFile struct {
	Version int                    `json:"version"`
	Emails  map[string]model.Email `json:"emails"`
	// Deleted holds tombstones of removed emails with their deletion time.
	Deleted map[string]time.Time `json:"deleted,omitempty"`
}

// snapshot is one committed state of the file.
type snapshot struct {
	emails  map[string]model.Email
	deleted map[string]time.Time
}

func (sn snapshot) copy() snapshot {
	next := snapshot{
		emails:  make(map[string]model.Email, len(sn.emails)+1),
		deleted: make(map[string]time.Time, len(sn.deleted)),
	}
	for id, e := range sn.emails {
		next.emails[id] = e
	}
	for id, at := range sn.deleted {
		next.deleted[id] = at
	}
	return next
}

// JSONFileStore implements Store on top of a single indented JSON file. The
// collection is cached in memory; every mutation rewrites the file
// atomically before the cache is replaced.
type JSONFileStore struct {
	path   string
	log    *zap.Logger
	now    func() time.Time
	locks  keyed.Mutex
	fileMu sync.Mutex // serializes commits

	// Per-id operations hold saveMu shared; Save and Load hold it
	// exclusively, so a whole-collection replace never interleaves with a
	// read-modify-write of one email.
	saveMu sync.RWMutex

	mu   sync.RWMutex
	data snapshot
}

// JSONOption customizes a JSONFileStore.
type JSONOption func(*JSONFileStore)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) JSONOption {
	return func(s *JSONFileStore) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) JSONOption {
	return func(s *JSONFileStore) { s.log = log }
}

// OpenJSONFileStore opens the mailbox file at path, creating an empty one if
// it does not exist. A file that cannot be parsed is reported as a
// StorageError and left untouched.
func OpenJSONFileStore(path string, opts ...JSONOption) (*JSONFileStore, error) {
	s := &JSONFileStore{
		path: path,
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := s.readFile()
	if errors.Is(err, fs.ErrNotExist) {
		data = snapshot{emails: make(map[string]model.Email), deleted: make(map[string]time.Time)}
		if err := s.writeFile(data); err != nil {
			return nil, &StorageError{Op: "create", Path: path, Err: err}
		}
		s.log.Info("created mailbox file", zap.String("path", path))
	} else if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	s.data = data
	return s, nil
}

// Path returns the backing file path.
func (s *JSONFileStore) Path() string { return s.path }

// Close is a no-op; every commit is already on disk.
func (s *JSONFileStore) Close() error { return nil }

func (s *JSONFileStore) readFile() (snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return snapshot{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return snapshot{}, fmt.Errorf("mailbox file is empty")
	}

	var f inboxFile
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		return snapshot{}, fmt.Errorf("decoding mailbox: %w", err)
	}
	if f.Version != inboxFileVersion {
		return snapshot{}, fmt.Errorf("unsupported mailbox version %d", f.Version)
	}
	if f.Emails == nil {
		f.Emails = make(map[string]model.Email)
	}
	if f.Deleted == nil {
		f.Deleted = make(map[string]time.Time)
	}
	for key, e := range f.Emails {
		if err := validateEmail(key, e); err != nil {
			return snapshot{}, err
		}
		f.Emails[key] = normalize(e)
	}
	return snapshot{emails: f.Emails, deleted: f.Deleted}, nil
}

func (s *JSONFileStore) writeFile(sn snapshot) error {
	data, err := json.MarshalIndent(inboxFile{
		Version: inboxFileVersion,
		Emails:  sn.emails,
		Deleted: sn.deleted,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mailbox: %w", err)
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

// commit applies change to a copy of the collection, writes the copy to
// disk and only then publishes it.
func (s *JSONFileStore) commit(op string, change func(next snapshot) error) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.RLock()
	next := s.data.copy()
	s.mu.RUnlock()

	if err := change(next); err != nil {
		return err
	}
	if err := s.writeFile(next); err != nil {
		return &StorageError{Op: op, Path: s.path, Err: err}
	}

	s.mu.Lock()
	s.data = next
	s.mu.Unlock()
	return nil
}

// Load re-reads the file, refreshes the cache and returns a copy.
func (s *JSONFileStore) Load(_ context.Context) (map[string]model.Email, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	data, err := s.readFile()
	if err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	out := make(map[string]model.Email, len(data.emails))
	for id, e := range data.emails {
		out[id] = e.Clone()
	}
	return out, nil
}

// Save replaces the whole collection. It waits for in-flight updates and
// blocks new ones until the file is written. Tombstones are kept.
func (s *JSONFileStore) Save(_ context.Context, emails map[string]model.Email) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	return s.commit("save", func(next snapshot) error {
		for id, e := range emails {
			if err := validateEmail(id, e); err != nil {
				return &StorageError{Op: "save", Path: s.path, Err: err}
			}
		}
		for id := range next.emails {
			delete(next.emails, id)
		}
		for id, e := range emails {
			next.emails[id] = normalize(e.Clone())
			delete(next.deleted, id)
		}
		return nil
	})
}

// Get returns a copy of the email with the given id.
func (s *JSONFileStore) Get(_ context.Context, id string) (model.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data.emails[id]
	if !ok {
		return model.Email{}, fmt.Errorf("getting email %s: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

// Update runs fn under the per-id lock and persists the result.
func (s *JSONFileStore) Update(_ context.Context, id string, fn Mutator) (model.Email, error) {
	s.saveMu.RLock()
	defer s.saveMu.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Get(context.Background(), id)
	if err != nil {
		return model.Email{}, err
	}

	if err := fn(&current); err != nil {
		return model.Email{}, err
	}
	current.ID = id
	current.UpdatedAt = s.now().UTC()
	current = normalize(current)

	err = s.commit("update", func(next snapshot) error {
		if _, ok := next.emails[id]; !ok {
			return fmt.Errorf("updating email %s: %w", id, ErrNotFound)
		}
		next.emails[id] = current
		return nil
	})
	if err != nil {
		return model.Email{}, err
	}
	return current.Clone(), nil
}

// Add inserts e when its id is unknown.
func (s *JSONFileStore) Add(_ context.Context, e model.Email) (bool, error) {
	if err := validateEmail("", e); err != nil {
		return false, &StorageError{Op: "add", Path: s.path, Err: err}
	}

	s.saveMu.RLock()
	defer s.saveMu.RUnlock()
	unlock := s.locks.Lock(e.ID)
	defer unlock()

	s.mu.RLock()
	_, exists := s.data.emails[e.ID]
	_, deleted := s.data.deleted[e.ID]
	s.mu.RUnlock()
	if exists || deleted {
		return false, nil
	}

	created := false
	err := s.commit("add", func(next snapshot) error {
		if _, exists := next.emails[e.ID]; exists {
			return nil
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = s.now().UTC()
		}
		next.emails[e.ID] = normalize(e.Clone())
		created = true
		return nil
	})
	return created, err
}

// Delete removes the email and records a tombstone for its id.
func (s *JSONFileStore) Delete(_ context.Context, id string) error {
	s.saveMu.RLock()
	defer s.saveMu.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.commit("delete", func(next snapshot) error {
		if _, ok := next.emails[id]; !ok {
			return fmt.Errorf("deleting email %s: %w", id, ErrNotFound)
		}
		delete(next.emails, id)
		next.deleted[id] = s.now().UTC()
		return nil
	})
}

// List returns every email, newest first.
func (s *JSONFileStore) List(_ context.Context) ([]model.Email, error) {
	s.mu.RLock()
	out := make([]model.Email, 0, len(s.data.emails))
	for _, e := range s.data.emails {
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()

	sortEmails(out)
	return out, nil
}

// sortEmails orders by received time descending, then id for stability.
func sortEmails(emails []model.Email) {
	sort.Slice(emails, func(i, j int) bool {
		if !emails[i].ReceivedAt.Equal(emails[j].ReceivedAt) {
			return emails[i].ReceivedAt.After(emails[j].ReceivedAt)
		}
		return emails[i].ID < emails[j].ID
	})
}
