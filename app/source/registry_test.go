package source

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSourceConfig(t *testing.T, dir, id, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".yml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func TestRegistryLoadsConfigs(t *testing.T) {
	dir := t.TempDir()
	writeSourceConfig(t, dir, "alpha", `
name: Alpha Provider
endpoint: https://alpha.example.com/api/provide/vod
format: json
weight: 80
active: true
alias: AL
mappings:
  - type_id: "6"
    category: movie
    category_name: Movies
    subcategories:
      - name: action
        keywords: [action, fight]
`)
	writeSourceConfig(t, dir, "beta", `
name: Beta Provider
endpoint: https://beta.example.com/api.php/provide/vod
active: true
`)

	registry := NewRegistry(dir)
	if err := registry.Run(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if registry.GetConfigCount() != 2 {
		t.Fatalf("Expected 2 configs, got %d", registry.GetConfigCount())
	}

	alpha, err := registry.GetConfig("alpha")
	if err != nil {
		t.Fatalf("Expected alpha config, got error: %v", err)
	}
	if alpha.Weight != 80 {
		t.Errorf("Expected weight 80, got %d", alpha.Weight)
	}
	if len(alpha.Mappings) != 1 {
		t.Fatalf("Expected 1 mapping, got %d", len(alpha.Mappings))
	}
	if alpha.Mappings[0].Category != "movie" {
		t.Errorf("Expected category 'movie', got %s", alpha.Mappings[0].Category)
	}

	// Defaults applied
	beta, err := registry.GetConfig("beta")
	if err != nil {
		t.Fatalf("Expected beta config, got error: %v", err)
	}
	if beta.Format != FormatAuto {
		t.Errorf("Expected default format auto, got %s", beta.Format)
	}
	if beta.Weight != 50 {
		t.Errorf("Expected default weight 50, got %d", beta.Weight)
	}
}

func TestRegistryValidation(t *testing.T) {
	dir := t.TempDir()
	writeSourceConfig(t, dir, "broken", `
name: Broken Provider
format: json
`)

	registry := NewRegistry(dir)
	if err := registry.Run(); err == nil {
		t.Error("Expected error for config without endpoint")
	}
}

func TestRegistryMissingDir(t *testing.T) {
	registry := NewRegistry("/nonexistent/sources")
	if err := registry.Run(); err != nil {
		t.Errorf("Missing sources dir should not error, got: %v", err)
	}
}

func TestConfigToSource(t *testing.T) {
	config := &Config{
		ID:       "alpha",
		Name:     "Alpha",
		Endpoint: "https://alpha.example.com",
		Format:   FormatJSON,
		Weight:   80,
		Active:   true,
		Alias:    "AL",
		Mappings: []ConfigMapping{
			{TypeID: "6", Category: "movie", Subcategories: []ConfigSubcategory{
				{Name: "action", Keywords: []string{"action"}},
			}},
		},
	}

	src := config.ToSource()
	if src.ID != "alpha" || src.Weight != 80 || !src.Active {
		t.Errorf("Unexpected source conversion: %+v", src)
	}

	mappings := config.ToMappings()
	if len(mappings) != 1 {
		t.Fatalf("Expected 1 mapping, got %d", len(mappings))
	}
	if mappings[0].SourceID != "alpha" || mappings[0].SourceTypeID != "6" {
		t.Errorf("Unexpected mapping conversion: %+v", mappings[0])
	}
	if len(mappings[0].Subcategories) != 1 || mappings[0].Subcategories[0].Name != "action" {
		t.Errorf("Unexpected subcategory conversion: %+v", mappings[0].Subcategories)
	}
}
