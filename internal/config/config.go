package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Engine holds the tunable knobs of the scan and workflow engines.
// The confidence thresholds and disagreement defaults are policy choices,
// kept configurable rather than hard-coded.
type Engine struct {
	// MaxConcurrentAnalyzers caps simultaneously running analyzers per scan.
	MaxConcurrentAnalyzers int `mapstructure:"max_concurrent_analyzers"`
	// AnalyzerTimeout bounds a single analyzer invocation.
	AnalyzerTimeout time.Duration `mapstructure:"analyzer_timeout"`
	// ScanTimeout is the authoritative wall-clock budget for one scan.
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`
	// ConfidenceMediumMin and ConfidenceHighMin are the analyzer-run
	// counts at which scan confidence becomes medium and high.
	ConfidenceMediumMin int `mapstructure:"confidence_medium_min"`
	ConfidenceHighMin   int `mapstructure:"confidence_high_min"`
	// StripPathPrefixes are workspace/cache prefixes removed during
	// location normalization before deduplication.
	StripPathPrefixes []string `mapstructure:"strip_path_prefixes"`
	// PolicyRequestExpiry is how long a policy change request may stay pending.
	PolicyRequestExpiry time.Duration `mapstructure:"policy_request_expiry"`
	// ExceptionRequestExpiry is the default pending window for exceptions.
	ExceptionRequestExpiry time.Duration `mapstructure:"exception_request_expiry"`
	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// RuleBundlePath points at the rule/taxonomy bundle file.
	RuleBundlePath string `mapstructure:"rule_bundle_path"`
}

// Default returns the engine configuration defaults.
func Default() *Engine {
	return &Engine{
		MaxConcurrentAnalyzers: 4,
		AnalyzerTimeout:        2 * time.Minute,
		ScanTimeout:            10 * time.Minute,
		ConfidenceMediumMin:    2,
		ConfidenceHighMin:      4,
		StripPathPrefixes:      []string{"/tmp/modelguard", "/workspace", "/var/cache/modelguard"},
		PolicyRequestExpiry:    7 * 24 * time.Hour,
		ExceptionRequestExpiry: 7 * 24 * time.Hour,
		SweepInterval:          time.Minute,
	}
}

// Load reads the engine configuration from the given file, applying
// defaults for anything the file does not set. An empty path returns
// the defaults.
func Load(path string) (*Engine, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("max_concurrent_analyzers", cfg.MaxConcurrentAnalyzers)
	v.SetDefault("analyzer_timeout", cfg.AnalyzerTimeout)
	v.SetDefault("scan_timeout", cfg.ScanTimeout)
	v.SetDefault("confidence_medium_min", cfg.ConfidenceMediumMin)
	v.SetDefault("confidence_high_min", cfg.ConfidenceHighMin)
	v.SetDefault("strip_path_prefixes", cfg.StripPathPrefixes)
	v.SetDefault("policy_request_expiry", cfg.PolicyRequestExpiry)
	v.SetDefault("exception_request_expiry", cfg.ExceptionRequestExpiry)
	v.SetDefault("sweep_interval", cfg.SweepInterval)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config %q: %w", path, err)
	}
	if cfg.MaxConcurrentAnalyzers < 1 {
		return nil, fmt.Errorf("max_concurrent_analyzers must be at least 1, got %d", cfg.MaxConcurrentAnalyzers)
	}
	if cfg.ConfidenceHighMin < cfg.ConfidenceMediumMin {
		return nil, fmt.Errorf("confidence_high_min (%d) must not be below confidence_medium_min (%d)",
			cfg.ConfidenceHighMin, cfg.ConfidenceMediumMin)
	}
	return cfg, nil
}
