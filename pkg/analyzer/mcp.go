package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelguard/modelguard/pkg/types"
)

// mcpConfigNames are the manifest filenames the probe recognizes.
var mcpConfigNames = map[string]bool{
	"mcp.json":        true,
	".mcp.json":       true,
	"mcp_config.json": true,
	"mcp-config.json": true,
}

// shellMeta flags command strings that reach through a shell.
var shellMeta = regexp.MustCompile("[;|&`$<>]")

// credentialValue flags env values that look like inline secrets.
var credentialValue = regexp.MustCompile(`^(?:gh[pousr]_[A-Za-z0-9]{36,}|AKIA[0-9A-Z]{16}|sk-[A-Za-z0-9]{20,}|xox[bpas]-[A-Za-z0-9-]{10,}|[A-Za-z0-9+/=_\-]{32,})$`)

// overbroadArgs are launch flags that disable sandboxing or widen scope.
var overbroadArgs = map[string]bool{
	"--allow-all":                     true,
	"--dangerously-skip-permissions":  true,
	"--no-sandbox":                    true,
	"--disable-permission-prompts":    true,
	"--full-access":                   true,
}

type mcpConfig struct {
	MCPServers map[string]mcpServer `json:"mcpServers"`
}

type mcpServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
}

// MCPProbeAnalyzer is the protocol-specific probe for MCP server
// manifests: command injection vectors, inline credentials, and
// permission scopes wider than the integration needs.
type MCPProbeAnalyzer struct{}

// NewMCPProbeAnalyzer creates a new MCPProbeAnalyzer.
func NewMCPProbeAnalyzer() *MCPProbeAnalyzer { return &MCPProbeAnalyzer{} }

// Name returns the stable engine name.
func (a *MCPProbeAnalyzer) Name() string { return "mcpprobe" }

// Applicable reports whether the target carries an MCP manifest.
func (a *MCPProbeAnalyzer) Applicable(t *types.Target) bool {
	if t.ScanType == types.ScanTypeMCP || t.HasFramework("mcp") {
		return true
	}
	for _, file := range t.Files {
		if mcpConfigNames[filepath.Base(file)] {
			return true
		}
	}
	return false
}

// Analyze probes every MCP manifest in the target.
func (a *MCPProbeAnalyzer) Analyze(ctx context.Context, t *types.Target) ([]types.RawFinding, error) {
	var findings []types.RawFinding
	for _, file := range t.Files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		if !mcpConfigNames[filepath.Base(file)] {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(t.Path, file))
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", file, err)
		}
		var config mcpConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", file, err)
		}
		findings = append(findings, a.probeServers(file, &config)...)
	}
	return findings, nil
}

func (a *MCPProbeAnalyzer) probeServers(file string, config *mcpConfig) []types.RawFinding {
	var findings []types.RawFinding
	for name, server := range config.MCPServers {
		base := "mcpServers." + name

		if shellMeta.MatchString(server.Command) || isShellWrapper(server.Command, server.Args) {
			findings = append(findings, types.RawFinding{
				RuleID:      "MG-MCP-001",
				Engine:      "mcpprobe",
				Title:       "Server command allows shell injection",
				Description: fmt.Sprintf("Server %q launches through a shell or with shell metacharacters: %s", name, server.Command),
				FilePath:    file,
				ConfigPath:  base + ".command",
				Severity:    types.SeverityCritical,
				Confidence:  types.ConfidenceHigh,
			})
		}

		for _, arg := range server.Args {
			if overbroadArgs[strings.ToLower(arg)] {
				findings = append(findings, types.RawFinding{
					RuleID:      "MG-MCP-003",
					Engine:      "mcpprobe",
					Title:       "Overbroad server permissions",
					Description: fmt.Sprintf("Server %q is launched with %s", name, arg),
					FilePath:    file,
					ConfigPath:  base + ".args",
					Severity:    types.SeverityMedium,
					Confidence:  types.ConfidenceMedium,
					Metadata:    map[string]string{"arg": arg},
				})
			}
		}

		for key, value := range server.Env {
			if credentialValue.MatchString(value) {
				findings = append(findings, types.RawFinding{
					RuleID:      "MG-MCP-002",
					Engine:      "mcpprobe",
					Title:       "Plaintext credential in server config",
					Description: fmt.Sprintf("Server %q inlines a credential in env %s", name, key),
					FilePath:    file,
					ConfigPath:  base + ".env." + key,
					Severity:    types.SeverityHigh,
					Confidence:  types.ConfidenceMedium,
				})
			}
		}
	}
	return findings
}

func isShellWrapper(command string, args []string) bool {
	base := filepath.Base(command)
	if base != "sh" && base != "bash" && base != "zsh" && base != "cmd" && base != "cmd.exe" {
		return false
	}
	for _, arg := range args {
		if arg == "-c" || strings.EqualFold(arg, "/c") {
			return true
		}
	}
	return false
}
