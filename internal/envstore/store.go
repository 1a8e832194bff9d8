package envstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Prefix marks ambient process variables that seed the allowlist. The
// prefix is stripped: BUN_RUNNER_ENV_API_KEY becomes API_KEY.
const Prefix = "BUN_RUNNER_ENV_"

var nameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidNameError reports a variable name the store refuses to manage.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid variable name %q: must match [A-Za-z_][A-Za-z0-9_]*", e.Name)
}

// Store is the merged environment allowlist. File-backed values layer over
// prefix-stripped ambient variables; mutations persist to the file and
// refresh the in-memory snapshot. Safe for concurrent use.
type Store struct {
	path string

	mu       sync.RWMutex
	fileVars map[string]string
	merged   map[string]string

	watch *watcher
}

// New returns a store backed by the dotenv file at path and loads the
// current state. A missing file is treated as empty.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the ambient variables and the dotenv file.
func (s *Store) Reload() error {
	fileVars := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err == nil {
		fileVars = parseEnvFile(string(data))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading env file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.fileVars = fileVars
	s.rebuildLocked()
	s.mu.Unlock()
	return nil
}

// rebuildLocked recomputes the merged view. Callers hold s.mu.
func (s *Store) rebuildLocked() {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, Prefix) {
			continue
		}
		stripped := strings.TrimPrefix(name, Prefix)
		if nameRegexp.MatchString(stripped) {
			merged[stripped] = value
		}
	}
	for k, v := range s.fileVars {
		merged[k] = v
	}
	s.merged = merged
}

// Get returns the value for name from the merged view.
func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.merged[name]
	return v, ok
}

// Names returns the allowlisted variable names in sorted order. This is
// the list handed to the sandbox via ALLOWED_ENV_VARS.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.merged))
	for k := range s.merged {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the merged variables.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.merged))
	for k, v := range s.merged {
		out[k] = v
	}
	return out
}

// Set validates the name, persists the value to the dotenv file, and
// updates the snapshot.
func (s *Store) Set(name, value string) error {
	if !nameRegexp.MatchString(name) {
		return &InvalidNameError{Name: name}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileVars == nil {
		s.fileVars = make(map[string]string)
	}
	s.fileVars[name] = value
	if err := s.writeFileLocked(); err != nil {
		delete(s.fileVars, name)
		return err
	}
	s.rebuildLocked()
	return nil
}

// Unset removes the variable from the dotenv file and reports whether it
// was present. An ambient prefixed variable with the same name becomes
// visible again.
func (s *Store) Unset(name string) (bool, error) {
	if !nameRegexp.MatchString(name) {
		return false, &InvalidNameError{Name: name}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, present := s.fileVars[name]
	if !present {
		return false, nil
	}
	delete(s.fileVars, name)
	if err := s.writeFileLocked(); err != nil {
		s.fileVars[name] = prev
		return false, err
	}
	s.rebuildLocked()
	return true, nil
}

// writeFileLocked atomically rewrites the dotenv file. Callers hold s.mu.
func (s *Store) writeFileLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating env dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(serializeEnvFile(s.fileVars)), 0600); err != nil {
		return fmt.Errorf("writing env file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing env file: %w", err)
	}
	return nil
}

// Path returns the dotenv file path.
func (s *Store) Path() string {
	return s.path
}

// Close stops the file watcher if one was started.
func (s *Store) Close() error {
	if s.watch != nil {
		return s.watch.close()
	}
	return nil
}
