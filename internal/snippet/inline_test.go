package snippet

import (
	"strings"
	"testing"
)

func newTestInliner(t *testing.T, snippets map[string]string) *Inliner {
	t.Helper()
	store := NewStore(t.TempDir())
	for name, code := range snippets {
		if _, err := store.Save(name, code); err != nil {
			t.Fatalf("saving %s: %v", name, err)
		}
	}
	return NewInliner(store)
}

func TestInline_NoDirectivesUnchanged(t *testing.T) {
	in := newTestInliner(t, nil)

	src := "console.log('hello')\n// a normal comment\n"
	got, err := in.Inline(src)
	if err != nil {
		t.Fatalf("Inline() error = %v", err)
	}
	if got != src {
		t.Errorf("expected unchanged code, got %q", got)
	}
}

func TestInline_SingleSnippet(t *testing.T) {
	in := newTestInliner(t, map[string]string{
		"util": "/** @description util */\nexport const X = 42\n",
	})

	src := "// @use-snippet: util\nconsole.log(X)\n"
	got, err := in.Inline(src)
	if err != nil {
		t.Fatalf("Inline() error = %v", err)
	}

	if !strings.Contains(got, "// --- snippet: util ---") {
		t.Error("missing snippet marker")
	}
	if !strings.Contains(got, "// === USER CODE ===") {
		t.Error("missing user code marker")
	}
	if !strings.Contains(got, "const X = 42") {
		t.Error("snippet body missing")
	}
	if strings.Contains(got, "export const X") {
		t.Error("export was not stripped")
	}
	if !strings.HasSuffix(got, src) {
		t.Error("user code must appear verbatim at the end")
	}
}

func TestInline_DependencyOrder(t *testing.T) {
	in := newTestInliner(t, map[string]string{
		"high": "/** @description high */\n// @use-snippet: low\nexport function h() { return l() }\n",
		"low":  "/** @description low */\nexport function l() { return 1 }\n",
	})

	got, err := in.Inline("// @use-snippet: high\nconsole.log(h())\n")
	if err != nil {
		t.Fatalf("Inline() error = %v", err)
	}

	lowAt := strings.Index(got, "// --- snippet: low ---")
	highAt := strings.Index(got, "// --- snippet: high ---")
	if lowAt < 0 || highAt < 0 {
		t.Fatalf("markers missing in output:\n%s", got)
	}
	if lowAt > highAt {
		t.Error("dependency must appear before its user")
	}
}

func TestInline_DiamondInlinedOnce(t *testing.T) {
	in := newTestInliner(t, map[string]string{
		"a":    "/** @description a */\n// @use-snippet: base\nexport const A = B + 1\n",
		"b":    "/** @description b */\n// @use-snippet: base\nexport const C = B + 2\n",
		"base": "/** @description base */\nexport const B = 1\n",
	})

	got, err := in.Inline("// @use-snippet: a\n// @use-snippet: b\nconsole.log(A, C)\n")
	if err != nil {
		t.Fatalf("Inline() error = %v", err)
	}

	if n := strings.Count(got, "// --- snippet: base ---"); n != 1 {
		t.Errorf("base inlined %d times, want 1", n)
	}
	baseAt := strings.Index(got, "// --- snippet: base ---")
	aAt := strings.Index(got, "// --- snippet: a ---")
	bAt := strings.Index(got, "// --- snippet: b ---")
	if baseAt > aAt || baseAt > bAt {
		t.Error("base must precede both users")
	}
}

func TestInline_MissingSnippet(t *testing.T) {
	in := newTestInliner(t, nil)

	_, err := in.Inline("// @use-snippet: ghost\n")
	if err == nil {
		t.Fatal("expected error for missing snippet")
	}
	if err.Error() != "Snippet 'ghost' not found" {
		t.Errorf("error = %q, want %q", err.Error(), "Snippet 'ghost' not found")
	}
}

func TestInline_MissingTransitiveSnippet(t *testing.T) {
	in := newTestInliner(t, map[string]string{
		"outer": "/** @description outer */\n// @use-snippet: inner\nexport const O = 1\n",
	})

	_, err := in.Inline("// @use-snippet: outer\n")
	if err == nil || err.Error() != "Snippet 'inner' not found" {
		t.Errorf("error = %v, want missing 'inner'", err)
	}
}

func TestInline_CycleReported(t *testing.T) {
	in := newTestInliner(t, map[string]string{
		"a": "/** @description a */\n// @use-snippet: b\nexport const A = 1\n",
		"b": "/** @description b */\n// @use-snippet: a\nexport const B = 2\n",
	})

	_, err := in.Inline("// @use-snippet: a\n")
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "a → b → a") {
		t.Errorf("error = %q, want it to mention the chain a → b → a", err.Error())
	}
}

func TestInline_SelfCycle(t *testing.T) {
	in := newTestInliner(t, map[string]string{
		"loop": "/** @description loop */\n// @use-snippet: loop\nexport const L = 1\n",
	})

	_, err := in.Inline("// @use-snippet: loop\n")
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "loop → loop") {
		t.Errorf("error = %q, want it to mention loop → loop", err.Error())
	}
}

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "basic",
			code: "// @use-snippet: util\n",
			want: []string{"util"},
		},
		{
			name: "whitespace insensitive",
			code: "//@use-snippet:tight\n//   @use-snippet   :   loose\n",
			want: []string{"tight", "loose"},
		},
		{
			name: "dedup preserves first seen order",
			code: "// @use-snippet: b\n// @use-snippet: a\n// @use-snippet: b\n",
			want: []string{"b", "a"},
		},
		{
			name: "mid file",
			code: "const x = 1\n// @use-snippet: late\nconst y = 2\n",
			want: []string{"late"},
		},
		{
			name: "none",
			code: "// a comment mentioning snippets\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDirectives(tt.code)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestStripExports(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"async function", "export async function f() {}", "async function f() {}"},
		{"function", "export function f() {}", "function f() {}"},
		{"const", "export const x = 1", "const x = 1"},
		{"let", "export let y = 2", "let y = 2"},
		{"var", "export var z = 3", "var z = 3"},
		{"abstract class", "export abstract class A {}", "abstract class A {}"},
		{"class", "export class B {}", "class B {}"},
		{"default removed", "export default function main() {}", "function main() {}"},
		{"type", "export type T = string", "type T = string"},
		{"interface", "export interface I {}", "interface I {}"},
		{"indented", "  export const x = 1", "  const x = 1"},
		{"mid line untouched", "const s = \"export const fake\"", "const s = \"export const fake\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripExports(tt.in); got != tt.want {
				t.Errorf("stripExports(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
