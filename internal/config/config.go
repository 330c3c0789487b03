// Parses the statedb YAML configuration.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/maruel/statedb/internal/table"
)

// Version is the only configuration version understood.
const Version = 1

// Storage backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Config is the root of the configuration file.
type Config struct {
	Version  int                `yaml:"version" json:"version" jsonschema:"description=Configuration format version,enum=1"`
	DataDir  string             `yaml:"data_dir,omitempty" json:"data_dir,omitempty" jsonschema:"description=Directory holding table files and the block log"`
	Storage  StorageConfig      `yaml:"storage" json:"storage"`
	Throttle ThrottleConfig     `yaml:"throttle" json:"throttle"`
	Tables   []*table.TableInfo `yaml:"tables" json:"tables" jsonschema:"description=Table schemas"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"description=Backing store,enum=file,enum=memory"`
	// Git commits every block to a git repository in DataDir.
	Git    bool   `yaml:"git,omitempty" json:"git,omitempty" jsonschema:"description=Commit every block to git"`
	Author string `yaml:"author,omitempty" json:"author,omitempty" jsonschema:"description=Git commit author name"`
	Email  string `yaml:"email,omitempty" json:"email,omitempty" jsonschema:"description=Git commit author email"`
}

// Validate checks the storage settings.
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case BackendFile:
	case BackendMemory:
		if s.Git {
			return errors.New("git requires the file backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	return nil
}

// ThrottleConfig limits how fast the table caches are populated from
// storage.
type ThrottleConfig struct {
	// SelectsPerSecond of 0 means unlimited.
	SelectsPerSecond float64 `yaml:"selects_per_second,omitempty" json:"selects_per_second,omitempty" jsonschema:"description=Storage selects per second; 0 means unlimited,minimum=0"`
	Burst            int     `yaml:"burst,omitempty" json:"burst,omitempty" jsonschema:"description=Token bucket size,minimum=0"`
}

// Validate checks that the limits are non-negative.
func (t *ThrottleConfig) Validate() error {
	if t.SelectsPerSecond < 0 {
		return errors.New("selects_per_second must be non-negative")
	}
	if t.Burst < 0 {
		return errors.New("burst must be non-negative")
	}
	return nil
}

// Default returns a configuration with every default applied and no table.
func Default() *Config {
	c := &Config{Version: Version}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.Author == "" {
		c.Storage.Author = "statedb"
	}
	if c.Storage.Email == "" {
		c.Storage.Email = "statedb@localhost"
	}
	if c.Throttle.Burst == 0 {
		c.Throttle.Burst = 10
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Throttle.Validate(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Tables))
	for i, ti := range c.Tables {
		if ti == nil {
			return fmt.Errorf("table %d: empty", i)
		}
		if err := ti.Validate(); err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		if _, ok := seen[ti.Name]; ok {
			return fmt.Errorf("table %s: declared twice", ti.Name)
		}
		seen[ti.Name] = struct{}{}
	}
	return nil
}

// Table returns the schema of the named table, or nil.
func (c *Config) Table(name string) *table.TableInfo {
	for _, ti := range c.Tables {
		if ti.Name == name {
			return ti
		}
	}
	return nil
}

// Load reads and parses the configuration file at path. A relative DataDir
// is resolved against the directory of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(filepath.Dir(path), c.DataDir)
	}
	return c, nil
}

// Parse parses a configuration from bytes, applies defaults and validates
// it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, ti := range c.Tables {
		for i, a := range ti.AuthorizedAddress {
			ti.AuthorizedAddress[i] = a.Normalize()
		}
	}
	return &c, nil
}

// JSONSchema returns the JSON schema of the configuration file, indented.
func JSONSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "statedb configuration"
	return json.MarshalIndent(s, "", "  ")
}
