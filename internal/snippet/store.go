// Package snippet stores reusable TypeScript fragments and composes
// them into user programs. Snippets persist one file per name under a
// fixed directory and declare their own dependencies with
// // @use-snippet: directives.
package snippet

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Snippet is a named, reusable code fragment. The description comes
// from the code's first JSDoc @description tag.
type Snippet struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// validName matches safe snippet names (also safe as filenames).
var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// descriptionRe captures the text after @description inside the first
// JSDoc block. The capture runs to the block close and is trimmed of
// trailing asterisks and whitespace.
var descriptionRe = regexp.MustCompile(`(?s)/\*\*.*?@description\s+(.*?)\*/`)

// NotFoundError is returned when a named snippet does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Snippet '%s' not found", e.Name)
}

// Store handles snippet persistence and lookup.
type Store struct {
	dir string
	mu  sync.RWMutex // protects file operations
}

// NewStore creates a snippet store for the given directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the snippet storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save validates and persists a snippet, replacing any previous code
// under the same name. The name must match [A-Za-z0-9_-]+ and the code
// must carry a JSDoc @description tag.
func (s *Store) Save(name, code string) (*Snippet, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid snippet name %q: must match [A-Za-z0-9_-]+", name)
	}
	description, ok := extractDescription(code)
	if !ok {
		return nil, fmt.Errorf("snippet %q has no description: add a /** @description ... */ block", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snippet directory: %w", err)
	}

	path := filepath.Join(s.dir, name+".ts")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(code), 0644); err != nil {
		return nil, fmt.Errorf("writing snippet: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("renaming snippet: %w", err)
	}

	return &Snippet{Name: name, Description: description, Code: code}, nil
}

// Get retrieves a snippet by name.
func (s *Store) Get(name string) (*Snippet, error) {
	if !validName.MatchString(name) {
		return nil, &NotFoundError{Name: name}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(name)
}

// loadLocked reads a snippet file. Caller must hold s.mu.
func (s *Store) loadLocked(name string) (*Snippet, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name+".ts"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Name: name}
		}
		return nil, fmt.Errorf("reading snippet %s: %w", name, err)
	}

	code := string(data)
	description, _ := extractDescription(code)
	return &Snippet{Name: name, Description: description, Code: code}, nil
}

// Exists reports whether a snippet with the given name is stored.
func (s *Store) Exists(name string) bool {
	if !validName.MatchString(name) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(filepath.Join(s.dir, name+".ts"))
	return err == nil
}

// List returns all stored snippets sorted by name.
func (s *Store) List() ([]*Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Snippet{}, nil
		}
		return nil, fmt.Errorf("reading snippet directory: %w", err)
	}

	snippets := make([]*Snippet, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".ts")
		if !validName.MatchString(name) {
			continue
		}
		snippet, err := s.loadLocked(name)
		if err != nil {
			continue // skip unreadable files
		}
		snippets = append(snippets, snippet)
	}

	sort.Slice(snippets, func(i, j int) bool {
		return snippets[i].Name < snippets[j].Name
	})

	return snippets, nil
}

// Delete removes a snippet.
func (s *Store) Delete(name string) error {
	if !validName.MatchString(name) {
		return &NotFoundError{Name: name}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, name+".ts"))
	if os.IsNotExist(err) {
		return &NotFoundError{Name: name}
	}
	return err
}

// extractDescription pulls the @description tag text out of the first
// JSDoc block that carries one.
func extractDescription(code string) (string, bool) {
	m := descriptionRe.FindStringSubmatch(code)
	if m == nil {
		return "", false
	}
	text := strings.TrimRight(m[1], "* \t\r\n")
	return text, true
}
