// Package conf loads docjin configuration files.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dosco/docjin/core"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix marks environment variables that override config values.
// Nested keys are separated by a double underscore, eg.
// DJ_CONNECTIONS__DEFAULT__URI sets connections.default.uri.
const EnvPrefix = "DJ_"

// Config is the file level configuration: the engine config plus the
// settings used by the command line tool.
type Config struct {
	core.Config `mapstructure:",squash" yaml:",inline"`

	// Log level: debug, info, warn or error
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Log format: auto, json or plain
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// Environment name, set from GO_ENV
	Env string `mapstructure:"env" yaml:"env"`

	// Directory the config file was read from
	ConfigPath string `mapstructure:"-" yaml:"-"`

	viper *viper.Viper
}

// ReadInConfig function reads in the config file for the environment specified in the GO_ENV
// environment variable.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesytem as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)
		if fs != nil {
			vi.SetFs(fs)
		}

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}

		if value := vi.GetString("inherits"); value != "" {
			return nil, fmt.Errorf("inherited config '%s' cannot itself inherit '%s'", pcf, value)
		}

		vi.SetConfigFile(cf)

		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	applyEnv(vi, os.Environ())

	c := &Config{viper: vi, ConfigPath: cp}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConfig function creates a new configuration from the provided config string
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}
	applyEnv(vi, os.Environ())

	c := &Config{viper: vi}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Engine returns the engine part of the configuration.
func (c *Config) Engine() *core.Config {
	return &c.Config
}

// AbsolutePath returns the absolute path of the file
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ConfigPath, p)
}

// applyEnv copies DJ_ prefixed environment variables over the config.
func applyEnv(vi *viper.Viper, env []string) {
	for _, e := range env {
		k, v, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
		vi.Set(strings.ReplaceAll(key, "__", "."), v)
	}
}

// newViperWithDefaults returns a new viper instance with the default settings
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")
	vi.SetDefault("default_connection", core.DefaultConnectionName)
	vi.SetDefault("relation_cache_size", 500)
	vi.SetDefault("debug", false)
	vi.SetDefault("production", false)

	vi.SetDefault("env", "development")
	vi.BindEnv("env", "GO_ENV") //nolint:errcheck

	return vi
}

// newViper returns a new viper instance with the default settings
func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}
