package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelguard/modelguard/pkg/types"
)

// pickleExtensions are the model artifact formats that may embed pickle
// opcode streams.
var pickleExtensions = map[string]bool{
	".pkl": true, ".pickle": true, ".pt": true, ".pth": true,
	".bin": true, ".ckpt": true, ".joblib": true,
}

// maxPickleReadSize bounds how much of a model blob the opcode walk reads.
// Dangerous GLOBAL imports sit near the front of the stream.
const maxPickleReadSize = 32 << 20

// criticalImports execute code on unpickling.
var criticalImports = map[string]bool{
	"os": true, "posix": true, "nt": true, "subprocess": true,
	"builtins": true, "__builtin__": true, "runpy": true,
	"commands": true, "pty": true,
}

// suspiciousImports give a loaded model unexpected reach.
var suspiciousImports = map[string]bool{
	"socket": true, "shutil": true, "sys": true, "importlib": true,
	"ctypes": true, "urllib": true, "requests": true, "pip": true,
	"webbrowser": true, "tempfile": true,
}

// globalOpcode matches the protocol-0/2 GLOBAL opcode form:
// 'c' module '\n' name '\n'.
var globalOpcode = regexp.MustCompile(`c([A-Za-z_][\w.]*)\n([A-Za-z_]\w*)\n`)

// PickleAnalyzer is the framework-aware model analyzer: it walks the
// pickle opcode stream of model artifacts looking for imports that
// execute or reach outside the process on load.
type PickleAnalyzer struct{}

// NewPickleAnalyzer creates a new PickleAnalyzer.
func NewPickleAnalyzer() *PickleAnalyzer { return &PickleAnalyzer{} }

// Name returns the stable engine name.
func (a *PickleAnalyzer) Name() string { return "pickleast" }

// Applicable reports whether the target carries pickle-bearing model files.
func (a *PickleAnalyzer) Applicable(t *types.Target) bool {
	if t.HasFramework("pickle") || t.HasFramework("pytorch") {
		return true
	}
	for _, file := range t.Files {
		if pickleExtensions[strings.ToLower(filepath.Ext(file))] {
			return true
		}
	}
	return false
}

// Analyze walks each model file's opcode stream for dangerous imports.
func (a *PickleAnalyzer) Analyze(ctx context.Context, t *types.Target) ([]types.RawFinding, error) {
	var findings []types.RawFinding
	for _, file := range t.Files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		if !pickleExtensions[strings.ToLower(filepath.Ext(file))] {
			continue
		}
		imports, err := extractGlobalImports(filepath.Join(t.Path, file))
		if err != nil {
			return nil, fmt.Errorf("failed to read model file %s: %w", file, err)
		}
		for _, imp := range imports {
			if finding, ok := a.classify(imp, file); ok {
				findings = append(findings, finding)
			}
		}
	}
	return findings, nil
}

// globalImport is one (module, name) pair pushed by a GLOBAL or
// STACK_GLOBAL opcode.
type globalImport struct {
	module string
	name   string
}

func extractGlobalImports(path string) ([]globalImport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, maxPickleReadSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	buf = buf[:n]

	var imports []globalImport
	for _, match := range globalOpcode.FindAllSubmatch(buf, -1) {
		imports = append(imports, globalImport{module: string(match[1]), name: string(match[2])})
	}
	imports = append(imports, stackGlobals(buf)...)
	return imports, nil
}

// stackGlobals extracts protocol-4 STACK_GLOBAL imports: two
// SHORT_BINUNICODE strings (0x8c len bytes) followed by 0x93.
func stackGlobals(buf []byte) []globalImport {
	var imports []globalImport
	for i := 0; i < len(buf); i++ {
		if buf[i] != 0x8c {
			continue
		}
		module, next, ok := shortBinunicode(buf, i)
		if !ok {
			continue
		}
		name, next, ok := shortBinunicode(buf, next)
		if !ok || next >= len(buf) || buf[next] != 0x93 {
			continue
		}
		imports = append(imports, globalImport{module: module, name: name})
		i = next
	}
	return imports
}

func shortBinunicode(buf []byte, i int) (string, int, bool) {
	if i >= len(buf) || buf[i] != 0x8c || i+1 >= len(buf) {
		return "", 0, false
	}
	length := int(buf[i+1])
	end := i + 2 + length
	if length == 0 || end > len(buf) {
		return "", 0, false
	}
	return string(buf[i+2 : end]), end, true
}

func (a *PickleAnalyzer) classify(imp globalImport, file string) (types.RawFinding, bool) {
	root := imp.module
	if dot := strings.IndexByte(root, '.'); dot >= 0 {
		root = root[:dot]
	}
	ref := imp.module + "." + imp.name

	switch {
	case criticalImports[root]:
		return types.RawFinding{
			RuleID:      "MG-PICKLE-001",
			Engine:      "pickleast",
			Title:       "Code execution on model load",
			Description: fmt.Sprintf("Pickle stream imports %s, which executes during deserialization", ref),
			FilePath:    file,
			Severity:    types.SeverityCritical,
			Confidence:  types.ConfidenceHigh,
			Metadata:    map[string]string{"import": ref},
		}, true
	case suspiciousImports[root]:
		return types.RawFinding{
			RuleID:      "MG-PICKLE-002",
			Engine:      "pickleast",
			Title:       "Suspicious import in model file",
			Description: fmt.Sprintf("Pickle stream imports %s, which a model artifact should not need", ref),
			FilePath:    file,
			Severity:    types.SeverityHigh,
			Confidence:  types.ConfidenceMedium,
			Metadata:    map[string]string{"import": ref},
		}, true
	}
	return types.RawFinding{}, false
}
