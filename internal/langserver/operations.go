package langserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type fileArgs struct {
	File string `json:"file"`
}

type diagnosticsArgs struct {
	File                string `json:"file"`
	IncludeLinePosition bool   `json:"includeLinePosition"`
}

type location struct {
	Line   int `json:"line"`
	Offset int `json:"offset"`
}

type diagnostic struct {
	Message       string   `json:"message"`
	Category      string   `json:"category"`
	Code          int      `json:"code"`
	StartLocation location `json:"startLocation"`
}

// GetDiagnostics type-checks one file and returns its diagnostics, each
// formatted as `path(line,col): category TScode: message`. An empty slice
// means the file is clean.
func (d *Driver) GetDiagnostics(ctx context.Context, path string) ([]string, error) {
	if err := d.send("open", fileArgs{File: path}); err != nil {
		return nil, err
	}
	defer func() { _ = d.send("close", fileArgs{File: path}) }()

	resp, err := d.call(ctx, "semanticDiagnosticsSync", diagnosticsArgs{
		File:                path,
		IncludeLinePosition: true,
	})
	if err != nil {
		return nil, err
	}

	var diags []diagnostic
	if err := json.Unmarshal(resp.Body, &diags); err != nil {
		return nil, fmt.Errorf("parsing diagnostics: %w", err)
	}

	formatted := make([]string, 0, len(diags))
	for _, diag := range diags {
		formatted = append(formatted, fmt.Sprintf("%s(%d,%d): %s TS%d: %s",
			path, diag.StartLocation.Line, diag.StartLocation.Offset,
			diag.Category, diag.Code, diag.Message))
	}
	return formatted, nil
}

type span struct {
	Start location `json:"start"`
	End   location `json:"end"`
}

// navTree mirrors tsserver's navigation tree nodes.
type navTree struct {
	Text          string    `json:"text"`
	Kind          string    `json:"kind"`
	KindModifiers string    `json:"kindModifiers"`
	Spans         []span    `json:"spans"`
	ChildItems    []navTree `json:"childItems"`
}

type quickInfoArgs struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Offset int    `json:"offset"`
}

// QuickInfo is tsserver's hover information for one position.
type QuickInfo struct {
	Kind          string `json:"kind"`
	KindModifiers string `json:"kindModifiers"`
	DisplayString string `json:"displayString"`
	Documentation string `json:"documentation"`
}

// FunctionType describes one exported function of a file.
type FunctionType struct {
	Name          string `json:"name"`
	Signature     string `json:"signature"`
	Documentation string `json:"documentation,omitempty"`
}

// GetExportedFunctionTypes walks the navigation tree of a file and
// resolves the signature of every exported function via quickinfo.
func (d *Driver) GetExportedFunctionTypes(ctx context.Context, path string) ([]FunctionType, error) {
	if err := d.send("open", fileArgs{File: path}); err != nil {
		return nil, err
	}
	defer func() { _ = d.send("close", fileArgs{File: path}) }()

	resp, err := d.call(ctx, "navtree", fileArgs{File: path})
	if err != nil {
		return nil, err
	}

	var tree navTree
	if err := json.Unmarshal(resp.Body, &tree); err != nil {
		return nil, fmt.Errorf("parsing navigation tree: %w", err)
	}

	var types []FunctionType
	var walk func(item navTree)
	walk = func(item navTree) {
		if item.Kind == "function" && strings.Contains(item.KindModifiers, "export") && len(item.Spans) > 0 {
			ft := FunctionType{Name: item.Text}
			info, err := d.quickInfoAt(ctx, path, item.Spans[0].Start)
			if err == nil {
				ft.Signature = info.DisplayString
				ft.Documentation = info.Documentation
			}
			types = append(types, ft)
		}
		for _, child := range item.ChildItems {
			walk(child)
		}
	}
	walk(tree)
	return types, nil
}

// GetQuickInfo returns hover information at a position.
func (d *Driver) GetQuickInfo(ctx context.Context, path string, line, offset int) (*QuickInfo, error) {
	if err := d.send("open", fileArgs{File: path}); err != nil {
		return nil, err
	}
	defer func() { _ = d.send("close", fileArgs{File: path}) }()

	return d.quickInfoAt(ctx, path, location{Line: line, Offset: offset})
}

func (d *Driver) quickInfoAt(ctx context.Context, path string, at location) (*QuickInfo, error) {
	resp, err := d.call(ctx, "quickinfo", quickInfoArgs{File: path, Line: at.Line, Offset: at.Offset})
	if err != nil {
		return nil, err
	}
	var info QuickInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("parsing quickinfo: %w", err)
	}
	return &info, nil
}
