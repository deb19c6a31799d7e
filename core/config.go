package core

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultConnectionName is used when a query or model names no connection.
const DefaultConnectionName = "default"

// SupportedDrivers lists the backing store drivers a connection may use
var SupportedDrivers = []string{"mongodb", "memory"}

// Configuration for the DocJin engine
type Config struct {
	// Named connections. Queries and models pick one by name
	Connections map[string]ConnectionConfig `mapstructure:"connections" json:"connections" yaml:"connections"`

	// Connection used when none is named. Defaults to "default"
	DefaultConnection string `mapstructure:"default_connection" json:"default_connection" yaml:"default_connection"`

	// Logs full pipelines with every executed query
	Debug bool `mapstructure:"debug" json:"debug" yaml:"debug"`

	// Size of the parsed relation path cache
	RelationCacheSize int `mapstructure:"relation_cache_size" json:"relation_cache_size" yaml:"relation_cache_size"`

	// Disables schema validation warnings and pipeline logging
	Production bool `mapstructure:"production" json:"production" yaml:"production"`

	// Models declared in configuration. Models can also be registered in code
	Models []ModelConfig `mapstructure:"models" json:"models" yaml:"models"`
}

// Configuration for a single named connection
type ConnectionConfig struct {
	// Driver is one of mongodb or memory
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver"`

	// Connection URI, for example mongodb://localhost:27017
	URI string `mapstructure:"uri" json:"uri" yaml:"uri"`

	// Database name
	Database string `mapstructure:"database" json:"database" yaml:"database"`
}

// Configuration for a model declared in a config file
type ModelConfig struct {
	Name       string            `mapstructure:"name" json:"name" yaml:"name"`
	Collection string            `mapstructure:"collection" json:"collection" yaml:"collection"`
	Connection string            `mapstructure:"connection" json:"connection" yaml:"connection"`
	Hidden     []string          `mapstructure:"hidden" json:"hidden" yaml:"hidden"`
	Timestamps bool              `mapstructure:"timestamps" json:"timestamps" yaml:"timestamps"`
	Schema     map[string]string `mapstructure:"schema" json:"schema" yaml:"schema"`
	Indexes    []IndexConfig     `mapstructure:"indexes" json:"indexes" yaml:"indexes"`
	Relations  []RelationConfig  `mapstructure:"relations" json:"relations" yaml:"relations"`
}

// Configuration for a model index. Fields prefixed with "-" are descending
type IndexConfig struct {
	Name   string   `mapstructure:"name" json:"name" yaml:"name"`
	Fields []string `mapstructure:"fields" json:"fields" yaml:"fields"`
	Unique bool     `mapstructure:"unique" json:"unique" yaml:"unique"`
	Sparse bool     `mapstructure:"sparse" json:"sparse" yaml:"sparse"`
}

// Configuration for a model relation
type RelationConfig struct {
	Name string `mapstructure:"name" json:"name" yaml:"name"`

	// One of has_one, has_many, embed_many, morph_one, morph_many, morph_to
	Type string `mapstructure:"type" json:"type" yaml:"type"`

	// Name of the related model. Not used by morph_to
	Related string `mapstructure:"related" json:"related" yaml:"related"`

	LocalKey   string `mapstructure:"local_key" json:"local_key" yaml:"local_key"`
	ForeignKey string `mapstructure:"foreign_key" json:"foreign_key" yaml:"foreign_key"`

	// Morph name for polymorphic relations, eg. imageable
	Morph string `mapstructure:"morph" json:"morph" yaml:"morph"`

	// Candidate owner models for morph_to
	Targets []string `mapstructure:"targets" json:"targets" yaml:"targets"`
}

// ValidateDriver checks if the given driver is supported
func ValidateDriver(driver string) error {
	for _, d := range SupportedDrivers {
		if strings.EqualFold(driver, d) {
			return nil
		}
	}
	return fmt.Errorf("unsupported driver %q: supported drivers are %s",
		driver, strings.Join(SupportedDrivers, ", "))
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ValidateDriver(c.Connections[name].Driver); err != nil {
			return fmt.Errorf("connection %q: %w", name, err)
		}
	}

	if len(c.Connections) != 0 {
		if _, ok := c.Connections[c.defaultConnection()]; !ok {
			return fmt.Errorf("default connection %q is not configured", c.defaultConnection())
		}
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model without a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model: %s", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func (c *Config) defaultConnection() string {
	if c.DefaultConnection == "" {
		return DefaultConnectionName
	}
	return c.DefaultConnection
}

func (c *Config) relationCacheSize() int {
	if c.RelationCacheSize <= 0 {
		return 500
	}
	return c.RelationCacheSize
}
