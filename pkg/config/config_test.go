package config

import (
	"os"
	"path/filepath"
	"testing"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// tests switch $HOME
	homedir.DisableCache = true
}

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 512, cfg.MaxFrames)
	assert.Equal(t, 256, cfg.MaxSEHHops)
}

func TestReadInConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cfg.yaml")
	content := "max_frames: 64\nptr_size: 4\nwalk_mode: fp\nverify_call: true\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	v := newViper()
	require.NoError(t, ReadInConfig(v, file))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.MaxFrames)
	assert.Equal(t, 4, cfg.PtrSize)
	assert.Equal(t, "fp", cfg.WalkMode)
	assert.True(t, cfg.VerifyCall)
	assert.Equal(t, 256, cfg.MaxSEHHops)
}

func TestReadInConfigMissing(t *testing.T) {
	// explicit file must exist
	v := newViper()
	assert.Error(t, ReadInConfig(v, filepath.Join(t.TempDir(), "nope.yaml")))

	// default file may be absent
	t.Setenv("HOME", t.TempDir())
	v = newViper()
	assert.NoError(t, ReadInConfig(v, ""))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DBGFUNCS_MAX_SEH_HOPS", "8")

	v := newViper()
	require.NoError(t, ReadInConfig(v, ""))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxSEHHops)
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int(KeyMaxFrames, 512, "")
	flags.String(KeyWalkMode, "scan", "")
	require.NoError(t, flags.Parse([]string{"--max_frames=3", "--walk_mode=framepointer"}))

	v := newViper()
	require.NoError(t, BindFlags(v, flags))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxFrames)
	assert.Equal(t, "framepointer", cfg.WalkMode)
}

func TestValidate(t *testing.T) {
	type arg struct {
		name   string
		modify func(*Config)
	}

	args := []arg{
		{"ptr size", func(c *Config) { c.PtrSize = 2 }},
		{"max frames", func(c *Config) { c.MaxFrames = 0 }},
		{"max hops", func(c *Config) { c.MaxSEHHops = -1 }},
		{"walk mode", func(c *Config) { c.WalkMode = "dwarf" }},
	}

	for _, a := range args {
		cfg := Default()
		a.modify(&cfg)
		assert.Error(t, cfg.Validate(), a.name)
	}
}
