package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/nhle/mail-triage/internal/model"
)

// promptEntry is one record of the prompt library file.
type promptEntry struct {
	Type   model.Stage `json:"type"`
	Prompt string      `json:"prompt"`
}

type promptLibrary struct {
	Prompts []promptEntry `json:"prompts"`
}

// JSONTemplateFile implements TemplateStore with a prompt library file of
// the form {"prompts":[{"type":"categorize","prompt":"..."}]}.
type JSONTemplateFile struct {
	path string
	mu   sync.Mutex
}

// NewJSONTemplateFile returns a TemplateStore backed by path. The file is
// created on the first save.
func NewJSONTemplateFile(path string) *JSONTemplateFile {
	return &JSONTemplateFile{path: path}
}

func (f *JSONTemplateFile) read() (promptLibrary, error) {
	var lib promptLibrary
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return lib, nil
	}
	if err != nil {
		return lib, err
	}
	if err := json.Unmarshal(data, &lib); err != nil {
		return lib, fmt.Errorf("decoding prompt library: %w", err)
	}
	return lib, nil
}

// LoadTemplates returns the stored bodies. Missing names are simply absent.
func (f *JSONTemplateFile) LoadTemplates(_ context.Context) (map[model.Stage]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lib, err := f.read()
	if err != nil {
		return nil, &StorageError{Op: "load templates", Path: f.path, Err: err}
	}

	out := make(map[model.Stage]string, len(lib.Prompts))
	for _, p := range lib.Prompts {
		out[p.Type] = p.Prompt
	}
	return out, nil
}

// SaveTemplate replaces or appends the body stored for name.
func (f *JSONTemplateFile) SaveTemplate(_ context.Context, name model.Stage, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lib, err := f.read()
	if err != nil {
		return &StorageError{Op: "save template", Path: f.path, Err: err}
	}

	replaced := false
	for i := range lib.Prompts {
		if lib.Prompts[i].Type == name {
			lib.Prompts[i].Prompt = body
			replaced = true
		}
	}
	if !replaced {
		lib.Prompts = append(lib.Prompts, promptEntry{Type: name, Prompt: body})
	}

	data, err := json.MarshalIndent(lib, "", "  ")
	if err != nil {
		return &StorageError{Op: "save template", Path: f.path, Err: err}
	}
	if err := writeFileAtomic(f.path, append(data, '\n')); err != nil {
		return &StorageError{Op: "save template", Path: f.path, Err: err}
	}
	return nil
}
