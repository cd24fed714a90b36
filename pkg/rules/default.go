package rules

import "github.com/modelguard/modelguard/pkg/types"

// Default returns the built-in bundle used when no external bundle file
// is configured. It carries the core rule mappings and taxonomy for the
// in-tree analyzers.
func Default() *Bundle {
	bundle := &Bundle{
		Version: "1.0.0",
		Rules: []RuleMapping{
			{
				ID:          "MG-PICKLE-001",
				Category:    "ModelSecurity.UnsafeDeserialization",
				Severity:    types.SeverityCritical,
				Confidence:  types.ConfidenceHigh,
				Remediation: "Convert the model to safetensors or another non-executable format.",
			},
			{
				ID:          "MG-PICKLE-002",
				Category:    "ModelSecurity.SuspiciousImport",
				Severity:    types.SeverityHigh,
				Confidence:  types.ConfidenceMedium,
				Remediation: "Review the imported module; models should not reach into process or network APIs.",
			},
			{
				ID:          "MG-SECRET-001",
				Category:    "Secrets.Hardcoded",
				Severity:    types.SeverityCritical,
				Confidence:  types.ConfidenceHigh,
				Remediation: "Remove the credential and rotate it; load secrets from the environment.",
			},
			{
				ID:          "MG-SECRET-002",
				Category:    "Secrets.HighEntropyString",
				Severity:    types.SeverityMedium,
				Confidence:  types.ConfidenceLow,
				Remediation: "Confirm the string is not a credential; move real secrets out of the artifact.",
			},
			{
				ID:          "MG-MCP-001",
				Category:    "MCP.CommandInjection",
				Severity:    types.SeverityCritical,
				Confidence:  types.ConfidenceHigh,
				Remediation: "Pin server commands to absolute binaries and remove shell interpolation.",
			},
			{
				ID:          "MG-MCP-002",
				Category:    "MCP.PlaintextCredential",
				Severity:    types.SeverityHigh,
				Confidence:  types.ConfidenceMedium,
				Remediation: "Reference credentials indirectly; never inline tokens in server config.",
			},
			{
				ID:          "MG-MCP-003",
				Category:    "MCP.OverbroadPermissions",
				Severity:    types.SeverityMedium,
				Confidence:  types.ConfidenceMedium,
				Remediation: "Scope the server's tool permissions to what the integration needs.",
			},
		},
		Patterns: []PatternRule{
			{
				ID:       "MG-PATTERN-001",
				Regex:    `\beval\s*\(`,
				Files:    "**/*.py",
				Title:    "Dynamic code evaluation",
				Category: "Code.DynamicExecution",
				Severity: types.SeverityHigh,
			},
			{
				ID:       "MG-PATTERN-002",
				Regex:    `\bexec\s*\(`,
				Files:    "**/*.py",
				Title:    "Dynamic code execution",
				Category: "Code.DynamicExecution",
				Severity: types.SeverityHigh,
			},
			{
				ID:       "MG-PATTERN-003",
				Regex:    `(?i)torch\.load\s*\([^)]*\)`,
				Files:    "**/*.py",
				Title:    "Unsafe torch.load without weights_only",
				Category: "ModelSecurity.UnsafeDeserialization",
				Severity: types.SeverityHigh,
			},
			{
				ID:       "MG-PATTERN-004",
				Regex:    `(?i)verify\s*=\s*False`,
				Files:    "**/*.py",
				Title:    "TLS verification disabled",
				Category: "Network.InsecureTransport",
				Severity: types.SeverityMedium,
			},
		},
		Taxonomy: map[string][]TaxonomyTag{
			"ModelSecurity.UnsafeDeserialization": {
				{ID: "AML.T0010", Framework: "MITRE-ATLAS", Tier: TierContextualized},
				{ID: "OWASP-ML06", Framework: "OWASP-ML", Tier: TierContextualized},
			},
			"ModelSecurity.SuspiciousImport": {
				{ID: "AML.T0011", Framework: "MITRE-ATLAS", Tier: TierContextualized},
			},
			"Secrets.Hardcoded": {
				{ID: "CWE-798", Framework: "CWE", Tier: TierConventional},
			},
			"MCP.CommandInjection": {
				{ID: "CWE-78", Framework: "CWE", Tier: TierConventional},
				{ID: "SAFE-T1102", Framework: "MCP-THREATS", Tier: TierContextualized},
			},
			"MCP.PlaintextCredential": {
				{ID: "CWE-312", Framework: "CWE", Tier: TierConventional},
			},
			"Code.DynamicExecution": {
				{ID: "CWE-95", Framework: "CWE", Tier: TierConventional},
			},
		},
	}
	if err := bundle.init(); err != nil {
		// The built-in bundle is static; failing init is a programming error.
		panic(err)
	}
	return bundle
}
