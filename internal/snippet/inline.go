package snippet

import (
	"fmt"
	"regexp"
	"strings"
)

// directiveRe matches // @use-snippet: <name> anywhere in a file,
// tolerating whitespace around the colon.
var directiveRe = regexp.MustCompile(`//\s*@use-snippet\s*:\s*([A-Za-z0-9_-]+)`)

// exportTransforms rewrite top-level export syntax into plain
// declarations so inlined snippets do not become modules. Order
// matters: the more specific forms run first.
var exportTransforms = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?m)^(\s*)export async function`), "${1}async function"},
	{regexp.MustCompile(`(?m)^(\s*)export function`), "${1}function"},
	{regexp.MustCompile(`(?m)^(\s*)export (const|let|var)`), "${1}$2"},
	{regexp.MustCompile(`(?m)^(\s*)export abstract class`), "${1}abstract class"},
	{regexp.MustCompile(`(?m)^(\s*)export class`), "${1}class"},
	{regexp.MustCompile(`(?m)^(\s*)export default\s+`), "${1}"},
	{regexp.MustCompile(`(?m)^(\s*)export (type|interface)`), "${1}$2"},
}

const (
	inlineHeader   = "// === INLINED SNIPPETS ==="
	userCodeMarker = "// === USER CODE ==="
)

// Inliner composes stored snippets into user programs.
type Inliner struct {
	store *Store
}

// NewInliner returns an inliner backed by the given store.
func NewInliner(store *Store) *Inliner {
	return &Inliner{store: store}
}

// Inline resolves every // @use-snippet: directive reachable from
// userCode and prepends the snippets in dependency order, exports
// stripped. Code without directives is returned unchanged.
func (in *Inliner) Inline(userCode string) (string, error) {
	roots := parseDirectives(userCode)
	if len(roots) == 0 {
		return userCode, nil
	}

	nodes, err := in.collect(roots)
	if err != nil {
		return "", err
	}

	ordered, err := sortSnippets(roots, nodes)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(inlineHeader)
	b.WriteString("\n")
	for _, name := range ordered {
		b.WriteString(fmt.Sprintf("// --- snippet: %s ---\n", name))
		stripped := stripExports(nodes[name].code)
		b.WriteString(stripped)
		if !strings.HasSuffix(stripped, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString(userCodeMarker)
	b.WriteString("\n")
	b.WriteString(userCode)
	return b.String(), nil
}

type node struct {
	code string
	deps []string
}

// collect loads every snippet reachable from the root directives.
func (in *Inliner) collect(roots []string) (map[string]*node, error) {
	nodes := make(map[string]*node)
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, seen := nodes[name]; seen {
			continue
		}
		snippet, err := in.store.Get(name)
		if err != nil {
			return nil, err
		}
		deps := parseDirectives(snippet.Code)
		nodes[name] = &node{code: snippet.Code, deps: deps}
		queue = append(queue, deps...)
	}
	return nodes, nil
}

// sortSnippets orders the reachable snippets dependencies-first and
// rejects cycles, reporting the cycle chain.
func sortSnippets(roots []string, nodes map[string]*node) ([]string, error) {
	const (
		white = iota // unvisited
		gray         // on stack
		black        // done
	)
	color := make(map[string]int, len(nodes))
	var stack []string
	var ordered []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("circular snippet dependency: %s", cycleChain(stack, name))
		}
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range nodes[name].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		ordered = append(ordered, name)
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// cycleChain renders the portion of the DFS stack that forms the cycle,
// closing the loop with the repeated name: a → b → a.
func cycleChain(stack []string, repeat string) string {
	start := 0
	for i, name := range stack {
		if name == repeat {
			start = i
			break
		}
	}
	chain := append(append([]string(nil), stack[start:]...), repeat)
	return strings.Join(chain, " → ")
}

// parseDirectives extracts the referenced names in source order,
// deduplicated by first occurrence.
func parseDirectives(code string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range directiveRe.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// stripExports rewrites export declarations into plain ones.
func stripExports(code string) string {
	for _, t := range exportTransforms {
		code = t.re.ReplaceAllString(code, t.replacement)
	}
	return code
}
