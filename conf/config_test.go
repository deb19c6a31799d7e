package conf

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devConfig = `
inherits: base
debug: true
connections:
  default:
    driver: memory
models:
  - name: User
    timestamps: true
    hidden: [password]
    schema:
      email: required,email
    indexes:
      - name: email_unique
        fields: [email]
        unique: true
    relations:
      - name: bills
        type: has_many
        related: Bill
  - name: Bill
`

const baseConfig = `
log_level: warn
relation_cache_size: 50
connections:
  default:
    driver: mongodb
    uri: mongodb://localhost:27017
    database: app
`

func newFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(body), 0o644))
	}
	return fs
}

func TestReadInConfigInherits(t *testing.T) {
	fs := newFS(t, map[string]string{
		"/config/dev.yml":  devConfig,
		"/config/base.yml": baseConfig,
	})

	c, err := ReadInConfigFS("/config/dev.yml", fs)
	require.NoError(t, err)

	assert.True(t, c.Debug)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, 50, c.RelationCacheSize)
	assert.Equal(t, "default", c.DefaultConnection)
	assert.Equal(t, "/config", c.ConfigPath)

	def := c.Connections["default"]
	assert.Equal(t, "memory", def.Driver)
	assert.Equal(t, "app", def.Database)

	require.Len(t, c.Models, 2)
	assert.Equal(t, "User", c.Models[0].Name)
	assert.Equal(t, []string{"password"}, c.Models[0].Hidden)
	assert.Equal(t, "required,email", c.Models[0].Schema["email"])
	assert.Equal(t, "has_many", c.Models[0].Relations[0].Type)
	assert.True(t, c.Models[0].Indexes[0].Unique)
}

func TestReadInConfigNestedInherit(t *testing.T) {
	fs := newFS(t, map[string]string{
		"/config/dev.yml":  "inherits: base\n",
		"/config/base.yml": "inherits: other\n",
	})

	_, err := ReadInConfigFS("/config/dev.yml", fs)
	assert.ErrorContains(t, err, "cannot itself inherit")
}

func TestReadInConfigInvalidDriver(t *testing.T) {
	fs := newFS(t, map[string]string{
		"/config/dev.yml": "connections:\n  default:\n    driver: postgres\n",
	})

	_, err := ReadInConfigFS("/config/dev.yml", fs)
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DJ_LOG_LEVEL", "debug")
	t.Setenv("DJ_CONNECTIONS__DEFAULT__DATABASE", "from_env")

	fs := newFS(t, map[string]string{"/config/dev.yml": baseConfig})

	c, err := ReadInConfigFS("/config/dev.yml", fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "from_env", c.Connections["default"].Database)
	assert.Equal(t, "mongodb", c.Connections["default"].Driver)
}

func TestNewConfig(t *testing.T) {
	c, err := NewConfig(`{"debug": true, "connections": {"default": {"driver": "memory"}}}`, "json")
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "auto", c.LogFormat)
}

func TestLogger(t *testing.T) {
	c := &Config{LogLevel: "debug", LogFormat: "json"}
	log, err := c.Logger()
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger(false, "loud")
	assert.Error(t, err)
}
