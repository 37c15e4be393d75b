package category

import (
	"strings"

	"github.com/lysyi3m/vod-comb/app/database"
)

// Unclassified is the canonical category assigned to entries whose source
// taxonomy code has no mapping.
const Unclassified = "unclassified"

// Mapper resolves source taxonomy codes to canonical categories. It is
// built from a snapshot of the mapping table taken at task start, so a
// running task never observes mapping changes mid-flight.
type Mapper struct {
	byKey map[string]database.CategoryMapping
}

func NewMapper(mappings []database.CategoryMapping) *Mapper {
	byKey := make(map[string]database.CategoryMapping, len(mappings))
	for _, m := range mappings {
		byKey[mappingKey(m.SourceID, m.SourceTypeID)] = m
	}
	return &Mapper{byKey: byKey}
}

func mappingKey(sourceID, typeID string) string {
	return sourceID + "\x00" + typeID
}

// Resolve returns the canonical category for a source taxonomy code. The
// returned mapping is nil for unmapped codes, which resolve to Unclassified.
func (m *Mapper) Resolve(sourceID, typeID string) (string, *database.CategoryMapping) {
	mapping, ok := m.byKey[mappingKey(sourceID, typeID)]
	if !ok {
		return Unclassified, nil
	}
	return mapping.CategoryID, &mapping
}

// Subcategory scans the mapping's rules against an entry's title and
// description. The first rule with a matching keyword wins, in declaration
// order; keyword matching is case-insensitive.
func (m *Mapper) Subcategory(mapping *database.CategoryMapping, title, description string) string {
	if mapping == nil || len(mapping.Subcategories) == 0 {
		return ""
	}

	haystack := strings.ToLower(title + " " + description)
	for _, rule := range mapping.Subcategories {
		for _, keyword := range rule.Keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(keyword)) {
				return rule.Name
			}
		}
	}

	return ""
}

// TypeIDsFor returns the source taxonomy codes that map to the given
// canonical category, used to scope category collection tasks per source.
func (m *Mapper) TypeIDsFor(sourceID, categoryID string) []string {
	var typeIDs []string
	for _, mapping := range m.byKey {
		if mapping.SourceID == sourceID && mapping.CategoryID == categoryID {
			typeIDs = append(typeIDs, mapping.SourceTypeID)
		}
	}
	return typeIDs
}
