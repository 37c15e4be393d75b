package category

import (
	"sort"
	"testing"

	"github.com/lysyi3m/vod-comb/app/database"
)

func testMapper() *Mapper {
	return NewMapper([]database.CategoryMapping{
		{
			SourceID:     "alpha",
			SourceTypeID: "6",
			CategoryID:   "movie",
			Subcategories: []database.SubcategoryRule{
				{Name: "action", Keywords: []string{"action", "fight"}},
				{Name: "comedy", Keywords: []string{"comedy", "funny"}},
			},
		},
		{SourceID: "alpha", SourceTypeID: "7", CategoryID: "movie"},
		{SourceID: "alpha", SourceTypeID: "12", CategoryID: "series"},
		{SourceID: "beta", SourceTypeID: "6", CategoryID: "series"},
	})
}

func TestResolve(t *testing.T) {
	mapper := testMapper()

	categoryID, mapping := mapper.Resolve("alpha", "6")
	if categoryID != "movie" {
		t.Errorf("Expected category 'movie', got %s", categoryID)
	}
	if mapping == nil {
		t.Fatal("Expected mapping for alpha/6")
	}

	// Same type id, different source
	categoryID, _ = mapper.Resolve("beta", "6")
	if categoryID != "series" {
		t.Errorf("Expected category 'series', got %s", categoryID)
	}
}

func TestResolveUnmapped(t *testing.T) {
	mapper := testMapper()

	categoryID, mapping := mapper.Resolve("alpha", "99")
	if categoryID != Unclassified {
		t.Errorf("Expected unclassified, got %s", categoryID)
	}
	if mapping != nil {
		t.Error("Expected nil mapping for unmapped type id")
	}

	categoryID, _ = mapper.Resolve("unknown", "6")
	if categoryID != Unclassified {
		t.Errorf("Expected unclassified for unknown source, got %s", categoryID)
	}
}

func TestSubcategoryFirstMatchWins(t *testing.T) {
	mapper := testMapper()
	_, mapping := mapper.Resolve("alpha", "6")

	cases := []struct {
		name        string
		title       string
		description string
		want        string
	}{
		{"keyword in title", "Great Action Movie", "", "action"},
		{"keyword in description", "Untitled", "a funny story", "comedy"},
		{"case insensitive", "FIGHT NIGHT", "", "action"},
		{"declaration order breaks ties", "A funny fight", "", "action"},
		{"no match", "Quiet Drama", "slow and sad", ""},
	}

	for _, tc := range cases {
		if got := mapper.Subcategory(mapping, tc.title, tc.description); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestSubcategoryNilMapping(t *testing.T) {
	mapper := testMapper()
	if got := mapper.Subcategory(nil, "Action Movie", ""); got != "" {
		t.Errorf("Expected empty subcategory for nil mapping, got %q", got)
	}
}

func TestTypeIDsFor(t *testing.T) {
	mapper := testMapper()

	typeIDs := mapper.TypeIDsFor("alpha", "movie")
	sort.Strings(typeIDs)
	if len(typeIDs) != 2 || typeIDs[0] != "6" || typeIDs[1] != "7" {
		t.Errorf("Expected type ids [6 7], got %v", typeIDs)
	}

	if typeIDs := mapper.TypeIDsFor("alpha", "documentary"); len(typeIDs) != 0 {
		t.Errorf("Expected no type ids, got %v", typeIDs)
	}
}
