package snippet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const utilCode = "/** @description math helpers */\nexport const X = 42\n"

func TestStore_Save(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	snippet, err := store.Save("util", utilCode)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if snippet.Name != "util" {
		t.Errorf("Name = %q, want %q", snippet.Name, "util")
	}
	if snippet.Description != "math helpers" {
		t.Errorf("Description = %q, want %q", snippet.Description, "math helpers")
	}
	if snippet.Code != utilCode {
		t.Errorf("Code = %q, want %q", snippet.Code, utilCode)
	}

	data, err := os.ReadFile(filepath.Join(dir, "util.ts"))
	if err != nil {
		t.Fatalf("snippet file not written: %v", err)
	}
	if string(data) != utilCode {
		t.Errorf("file content = %q, want %q", string(data), utilCode)
	}
}

func TestStore_SaveInvalidName(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	for _, name := range []string{"", "has space", "has.dot", "has/slash", "../escape"} {
		if _, err := store.Save(name, utilCode); err == nil {
			t.Errorf("Save(%q) expected error, got nil", name)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files written, found %d", len(entries))
	}
}

func TestStore_SaveWithoutDescription(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Save("bare", "export const X = 1\n")
	if err == nil {
		t.Fatal("expected error for code without @description")
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Save("util", utilCode); err != nil {
		t.Fatal(err)
	}
	updated := "/** @description v2 */\nexport const X = 43\n"
	if _, err := store.Save("util", updated); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("util")
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != updated {
		t.Errorf("Code = %q, want %q", got.Code, updated)
	}
	if got.Description != "v2" {
		t.Errorf("Description = %q, want %q", got.Description, "v2")
	}
}

func TestStore_GetRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Save("util", utilCode); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("util")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Code != utilCode {
		t.Errorf("Get returned %q, want the saved code verbatim", got.Code)
	}
	if got.Description != "math helpers" {
		t.Errorf("Description = %q, want %q", got.Description, "math helpers")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Get("ghost")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
	if err.Error() != "Snippet 'ghost' not found" {
		t.Errorf("error = %q, want %q", err.Error(), "Snippet 'ghost' not found")
	}
}

func TestStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := store.Save(name, utilCode); err != nil {
			t.Fatal(err)
		}
	}
	// Stray files are ignored.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "bad name.ts"), []byte("x"), 0644)

	snippets, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(snippets) != 3 {
		t.Fatalf("expected 3 snippets, got %d", len(snippets))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if snippets[i].Name != want {
			t.Errorf("snippets[%d].Name = %q, want %q", i, snippets[i].Name, want)
		}
	}
}

func TestStore_ListEmptyDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"))

	snippets, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snippets) != 0 {
		t.Errorf("expected no snippets, got %d", len(snippets))
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Save("util", utilCode); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("util") {
		t.Error("Exists() = false before delete")
	}

	if err := store.Delete("util"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Exists("util") {
		t.Error("Exists() = true after delete")
	}

	var notFound *NotFoundError
	if err := store.Delete("util"); !errors.As(err, &notFound) {
		t.Errorf("second Delete: expected NotFoundError, got %v", err)
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
		ok   bool
	}{
		{
			name: "single line block",
			code: "/** @description util */ export const X = 42",
			want: "util",
			ok:   true,
		},
		{
			name: "multi line block",
			code: "/**\n * Fetch helpers.\n * @description wraps fetch with retries\n */\nexport function f() {}",
			want: "wraps fetch with retries",
			ok:   true,
		},
		{
			name: "trailing asterisks trimmed",
			code: "/** @description padded **/",
			want: "padded",
			ok:   true,
		},
		{
			name: "first block wins",
			code: "/** @description first */\ncode()\n/** @description second */",
			want: "first",
			ok:   true,
		},
		{
			name: "no tag",
			code: "/** just a comment */\nexport const X = 1",
			ok:   false,
		},
		{
			name: "line comment does not count",
			code: "// @description nope\nexport const X = 1",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractDescription(tt.code)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("description = %q, want %q", got, tt.want)
			}
		})
	}
}
