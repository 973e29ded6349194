package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOptions mirrors the shape of the CLI Options struct: a Config path
// field plus tagged fields the loader fills from TOML and env vars.
type testOptions struct {
	Config string `help:"Config file path"`

	StringField string   `toml:"test.string_field" env:"STRING_FIELD"`
	BoolField   bool     `toml:"test.bool_field" env:"BOOL_FIELD"`
	IntField    int      `toml:"test.int_field" env:"INT_FIELD"`
	SliceField  []string `toml:"test.slice_field" env:"SLICE_FIELD"`

	NestedString string `toml:"nested.value" env:"NESTED_VALUE"`
}

func writeTempTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTempTOML(t, `
[test]
string_field = "hello world"
bool_field = true
int_field = 42
slice_field = ["item1", "item2", "item3"]

[nested]
value = "nested value"
`)

	opts := &testOptions{Config: path}
	require.NoError(t, LoadConfig(opts, nil))

	assert.Equal(t, "hello world", opts.StringField)
	assert.True(t, opts.BoolField)
	assert.Equal(t, 42, opts.IntField)
	assert.Equal(t, []string{"item1", "item2", "item3"}, opts.SliceField)
	assert.Equal(t, "nested value", opts.NestedString)
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("MEDIABUS_STRING_FIELD", "env string")
	t.Setenv("MEDIABUS_BOOL_FIELD", "false")
	t.Setenv("MEDIABUS_INT_FIELD", "123")
	t.Setenv("MEDIABUS_SLICE_FIELD", "a,b,c")
	t.Setenv("MEDIABUS_NESTED_VALUE", "env nested")

	opts := &testOptions{}
	require.NoError(t, LoadConfig(opts, nil))

	assert.Equal(t, "env string", opts.StringField)
	assert.False(t, opts.BoolField)
	assert.Equal(t, 123, opts.IntField)
	assert.Equal(t, []string{"a", "b", "c"}, opts.SliceField)
	assert.Equal(t, "env nested", opts.NestedString)
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTempTOML(t, `
[test]
string_field = "toml value"
bool_field = true
int_field = 100
slice_field = ["toml1", "toml2"]
`)

	t.Setenv("MEDIABUS_STRING_FIELD", "env override")
	t.Setenv("MEDIABUS_BOOL_FIELD", "false")

	opts := &testOptions{Config: path}
	require.NoError(t, LoadConfig(opts, nil))

	assert.Equal(t, "env override", opts.StringField)
	assert.False(t, opts.BoolField)
	// TOML still wins where no env override exists.
	assert.Equal(t, 100, opts.IntField)
	assert.Equal(t, []string{"toml1", "toml2"}, opts.SliceField)
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"value": "nested_value",
			},
			"simple": "simple_value",
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"level1.simple", "simple_value"},
		{"level1.level2.value", "nested_value"},
		{"nonexistent", nil},
		{"level1.nonexistent", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, getNestedValue(data, tt.path), "path %q", tt.path)
	}
}

func TestSetFieldValueFromString(t *testing.T) {
	type target struct {
		S     string
		B     bool
		I     int
		Slice []string
	}

	s := &target{}
	v := reflect.ValueOf(s).Elem()

	setFieldValueFromString(v.FieldByName("S"), "test string")
	setFieldValueFromString(v.FieldByName("B"), "true")
	setFieldValueFromString(v.FieldByName("I"), "123")
	setFieldValueFromString(v.FieldByName("Slice"), " a , b , c ")

	assert.Equal(t, "test string", s.S)
	assert.True(t, s.B)
	assert.Equal(t, 123, s.I)
	assert.Equal(t, []string{"a", "b", "c"}, s.Slice)
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: "nonexistent_file.toml"}
	assert.NoError(t, LoadConfig(opts, nil), "missing config file is not an error")
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeTempTOML(t, `
[test
invalid toml syntax
`)

	opts := &testOptions{Config: path}
	assert.Error(t, LoadConfig(opts, nil))
}

func TestLoadLoggingConfigModuleLevels(t *testing.T) {
	path := writeTempTOML(t, `
[logging]
level = "info"
format = "json"
bus = "debug"
registry = "warn"
muxwriter = "error"
`)

	cfg := LoadLoggingConfig(path)

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, map[string]string{
		"bus":       "debug",
		"registry":  "warn",
		"muxwriter": "error",
	}, cfg.Modules)
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg := LoadLoggingConfig("")
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Empty(t, cfg.Modules)

	cfg = LoadLoggingConfig("does-not-exist.toml")
	assert.Equal(t, "info", cfg.Level)
}
