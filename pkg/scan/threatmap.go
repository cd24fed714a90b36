package scan

import (
	"fmt"

	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/pkg/rules"
)

// ThreatMapper attaches external taxonomy identifiers to normalized
// findings. The category to tag table is versioned bundle data; the
// mapper only consumes it. Unmapped categories stay untagged, tags are
// never fabricated.
type ThreatMapper struct {
	bundle *rules.Bundle
}

// NewThreatMapper creates a ThreatMapper over the rule bundle.
func NewThreatMapper(bundle *rules.Bundle) (*ThreatMapper, error) {
	if bundle == nil {
		return nil, fmt.Errorf("bundle cannot be nil")
	}
	return &ThreatMapper{bundle: bundle}, nil
}

// Apply stamps taxonomy tags into each finding's evidence.
func (m *ThreatMapper) Apply(findings []model.Finding) {
	for i := range findings {
		tags := m.bundle.TagsFor(findings[i].Category)
		if len(tags) == 0 {
			continue
		}
		projected := make([]interface{}, 0, len(tags))
		for _, tag := range tags {
			projected = append(projected, map[string]interface{}{
				"id":        tag.ID,
				"framework": tag.Framework,
				"tier":      tag.Tier,
			})
		}
		if findings[i].Evidence == nil {
			findings[i].Evidence = model.JSONMap{}
		}
		findings[i].Evidence[EvidenceTaxonomy] = projected
	}
}

// Tags returns the projected taxonomy tags recorded on a finding.
func Tags(f *model.Finding) []rules.TaxonomyTag {
	raw, _ := f.Evidence[EvidenceTaxonomy].([]interface{})
	var tags []rules.TaxonomyTag
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		tag := rules.TaxonomyTag{}
		tag.ID, _ = m["id"].(string)
		tag.Framework, _ = m["framework"].(string)
		tag.Tier, _ = m["tier"].(string)
		tags = append(tags, tag)
	}
	return tags
}
