package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mail-triage/internal/model"
)

// ErrNotFound is returned when an email id is not in the store.
var ErrNotFound = errors.New("email not found")

// StorageError reports a persistence failure. The operation that returned it
// did not change the stored collection.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err (or any error in its chain) is a
// StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Mutator changes an email in place. Returning an error aborts the update
// and nothing is written.
type Mutator func(e *model.Email) error

// Store is the authoritative home of every Email record.
type Store interface {
	// Load reads the whole persisted collection keyed by email id.
	Load(ctx context.Context) (map[string]model.Email, error)

	// Save atomically replaces the persisted collection.
	Save(ctx context.Context, emails map[string]model.Email) error

	// Get returns a copy of one email, or ErrNotFound.
	Get(ctx context.Context, id string) (model.Email, error)

	// Update runs fn against the latest committed version of the email and
	// persists the result. Updates to the same id are serialized; updates
	// to different ids may run concurrently.
	Update(ctx context.Context, id string, fn Mutator) (model.Email, error)

	// Add inserts e unless its id is already present or was deleted. It
	// reports whether the email was inserted.
	Add(ctx context.Context, e model.Email) (bool, error)

	// Delete removes one email with its conversation, or returns
	// ErrNotFound. A deleted id is remembered so later fetches of the same
	// message do not bring it back.
	Delete(ctx context.Context, id string) error

	// List returns all emails, most recently received first.
	List(ctx context.Context) ([]model.Email, error)

	Close() error
}

// TemplateStore persists prompt template bodies by name.
type TemplateStore interface {
	LoadTemplates(ctx context.Context) (map[model.Stage]string, error)
	SaveTemplate(ctx context.Context, name model.Stage, body string) error
}

// normalize gives every stored email a non-nil conversation, so records
// read back from either backend compare equal to what was written.
func normalize(e model.Email) model.Email {
	if e.Conversation == nil {
		e.Conversation = []model.ChatTurn{}
	}
	return e
}

// validateEmail checks a record read from or about to be written to disk.
func validateEmail(key string, e model.Email) error {
	if e.ID == "" {
		return fmt.Errorf("email under key %q has no id", key)
	}
	if key != "" && e.ID != key {
		return fmt.Errorf("email under key %q has id %q", key, e.ID)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("email %s has unknown status %q", e.ID, e.Status)
	}
	return nil
}
