package types

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ScanType identifies what kind of artifact a scan targets.
type ScanType string

const (
	// ScanTypeModel targets ML model artifacts (pickle, safetensors, onnx, ...).
	ScanTypeModel ScanType = "model"
	// ScanTypeMCP targets MCP server configurations and code.
	ScanTypeMCP ScanType = "mcp"
	// ScanTypeFull runs every applicable analyzer over the target.
	ScanTypeFull ScanType = "full"
)

// Target is a resolved, locally readable set of files to analyze.
// It is supplied by the target resolver, which has already validated
// any remote acquisition.
type Target struct {
	// Path is the root directory of the target.
	Path string
	// Files are paths relative to Path. If empty, Resolve walks Path.
	Files []string
	// ScanType selects the analyzer set.
	ScanType ScanType
	// Frameworks are detector signals supplied by the resolver,
	// e.g. "pytorch", "pickle", "mcp", "python".
	Frameworks []string
	// TenantID scopes the scan and its findings.
	TenantID string
}

// HasFramework reports whether the resolver detected the given framework.
func (t *Target) HasFramework(name string) bool {
	for _, f := range t.Frameworks {
		if f == name {
			return true
		}
	}
	return false
}

// Resolve verifies the target is readable and fills in Files by walking
// Path when the resolver did not enumerate them.
func (t *Target) Resolve() error {
	info, err := os.Stat(t.Path)
	if err != nil {
		return fmt.Errorf("target is not readable: %w", err)
	}
	if !info.IsDir() {
		t.Files = []string{filepath.Base(t.Path)}
		t.Path = filepath.Dir(t.Path)
		return nil
	}
	if len(t.Files) > 0 {
		return nil
	}
	err = filepath.WalkDir(t.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(t.Path, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %q: %w", path, err)
		}
		t.Files = append(t.Files, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk target: %w", err)
	}
	return nil
}
