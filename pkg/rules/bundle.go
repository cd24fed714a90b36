package rules

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/modelguard/modelguard/pkg/types"
)

// Taxonomy tag tiers. Contextualized tags come from AI-specific threat
// frameworks; conventional tags from general application-security ones.
const (
	TierContextualized = "contextualized"
	TierConventional   = "conventional"
)

// supportedBundleConstraint is the bundle schema range this engine reads.
const supportedBundleConstraint = "^1.0.0"

// TaxonomyTag is one external risk-framework identifier for a category.
type TaxonomyTag struct {
	ID        string `yaml:"id" json:"id"`
	Framework string `yaml:"framework" json:"framework"`
	Tier      string `yaml:"tier" json:"tier"`
}

// RuleMapping translates an engine-native rule id into the canonical
// category, severity, and confidence.
type RuleMapping struct {
	ID          string           `yaml:"id"`
	Category    string           `yaml:"category"`
	Severity    types.Severity   `yaml:"severity"`
	Confidence  types.Confidence `yaml:"confidence"`
	Remediation string           `yaml:"remediation"`
}

// PatternRule is one regex rule consumed by the pattern analyzer.
type PatternRule struct {
	ID       string         `yaml:"id"`
	Regex    string         `yaml:"regex"`
	Files    string         `yaml:"files"`
	Title    string         `yaml:"title"`
	Category string         `yaml:"category"`
	Severity types.Severity `yaml:"severity"`
}

// Bundle is the versioned rule and taxonomy data consumed read-only by
// the normalizer, the threat mapper, and the pattern analyzer. The
// bundle is data, not logic; it ships separately from the engine.
type Bundle struct {
	Version  string                   `yaml:"version"`
	Rules    []RuleMapping            `yaml:"rules"`
	Patterns []PatternRule            `yaml:"patterns"`
	Taxonomy map[string][]TaxonomyTag `yaml:"taxonomy"`

	byRuleID map[string]RuleMapping
}

// Load reads and validates a bundle file.
func Load(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule bundle: %w", err)
	}
	var bundle Bundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse rule bundle: %w", err)
	}
	if err := bundle.init(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (b *Bundle) init() error {
	version, err := semver.NewVersion(b.Version)
	if err != nil {
		return fmt.Errorf("invalid bundle version %q: %w", b.Version, err)
	}
	constraint, err := semver.NewConstraint(supportedBundleConstraint)
	if err != nil {
		return fmt.Errorf("invalid bundle constraint: %w", err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("bundle version %s is outside the supported range %s", b.Version, supportedBundleConstraint)
	}

	b.byRuleID = make(map[string]RuleMapping, len(b.Rules))
	for _, rule := range b.Rules {
		if rule.ID == "" {
			return fmt.Errorf("bundle contains a rule mapping without an id")
		}
		if _, dup := b.byRuleID[rule.ID]; dup {
			return fmt.Errorf("bundle contains duplicate rule id %q", rule.ID)
		}
		b.byRuleID[rule.ID] = rule
	}
	return nil
}

// MappingFor returns the canonical mapping for an engine-native rule id.
func (b *Bundle) MappingFor(ruleID string) (RuleMapping, bool) {
	mapping, ok := b.byRuleID[ruleID]
	return mapping, ok
}

// TagsFor returns the taxonomy tags for a category. Unmapped categories
// return nil; tags are never fabricated.
func (b *Bundle) TagsFor(category string) []TaxonomyTag {
	return b.Taxonomy[category]
}
