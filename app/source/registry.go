package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/vod-comb/app/database"
)

// Config is one source definition from the registry directory. Editing
// these files is the job of the configuration collaborator; the engine
// only reads them at startup and registers the result in the database.
type Config struct {
	ID       string          // Derived from filename (without .yml extension)
	Name     string          `yaml:"name"`
	Endpoint string          `yaml:"endpoint"`
	Format   string          `yaml:"format"`
	Weight   int             `yaml:"weight"`
	Active   bool            `yaml:"active"`
	Alias    string          `yaml:"alias"`
	Mappings []ConfigMapping `yaml:"mappings"`
}

type ConfigMapping struct {
	TypeID        string              `yaml:"type_id"`
	Category      string              `yaml:"category"`
	CategoryName  string              `yaml:"category_name"`
	Subcategories []ConfigSubcategory `yaml:"subcategories"`
}

type ConfigSubcategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type Registry struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewRegistry(sourcesDir string) *Registry {
	return &Registry{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

func (r *Registry) Run() error {
	if _, err := os.Stat(r.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		fileName := filepath.Base(file)
		sourceID := strings.TrimSuffix(fileName, ".yml")

		if _, err := r.LoadConfig(sourceID); err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
	}

	return nil
}

func (r *Registry) LoadConfig(sourceID string) (*Config, error) {
	configFile := filepath.Join(r.sourcesDir, sourceID+".yml")

	config, err := r.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	config.ID = sourceID

	if err := r.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[config.ID] = config

	return config, nil
}

func (r *Registry) GetConfig(sourceID string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.cache[sourceID]
	if !ok {
		return nil, fmt.Errorf("source config with id '%s' not found", sourceID)
	}
	return config, nil
}

func (r *Registry) GetConfigs() map[string]*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(r.cache))
	for k, v := range r.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (r *Registry) GetConfigCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Registry) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if config.Format == "" {
		config.Format = FormatAuto
	}
	if config.Weight == 0 {
		config.Weight = 50
	}

	return &config, nil
}

func (r *Registry) validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if config.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if config.Endpoint == "" {
		return fmt.Errorf("source endpoint is required")
	}

	switch config.Format {
	case FormatJSON, FormatXML, FormatRSS, FormatAuto:
	default:
		return fmt.Errorf("invalid source format: %s", config.Format)
	}

	if config.Weight < 1 || config.Weight > 100 {
		return fmt.Errorf("source weight must be between 1 and 100")
	}

	for i, m := range config.Mappings {
		if m.TypeID == "" {
			return fmt.Errorf("mapping at index %d is missing type_id", i)
		}
		if m.Category == "" {
			return fmt.Errorf("mapping at index %d is missing category", i)
		}
	}

	return nil
}

// ToSource converts a registry config to its database representation.
func (c *Config) ToSource() database.Source {
	return database.Source{
		ID:       c.ID,
		Name:     c.Name,
		Endpoint: c.Endpoint,
		Format:   c.Format,
		Weight:   c.Weight,
		Active:   c.Active,
		Alias:    c.Alias,
	}
}

// ToMappings converts the config's mapping list for database registration.
func (c *Config) ToMappings() []database.CategoryMapping {
	mappings := make([]database.CategoryMapping, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		subcategories := make([]database.SubcategoryRule, 0, len(m.Subcategories))
		for _, s := range m.Subcategories {
			subcategories = append(subcategories, database.SubcategoryRule{
				Name:     s.Name,
				Keywords: s.Keywords,
			})
		}
		mappings = append(mappings, database.CategoryMapping{
			SourceID:      c.ID,
			SourceTypeID:  m.TypeID,
			CategoryID:    m.Category,
			Subcategories: subcategories,
		})
	}
	return mappings
}
