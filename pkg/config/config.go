// Package config loads the debugger options from $HOME/.dbgfuncs.yaml, the
// environment (DBGFUNCS_*) and command line flags.
package config

import (
	"fmt"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/dbgfuncs/pkg/seh"
	"github.com/hitzhangjie/dbgfuncs/pkg/stack"
	"github.com/hitzhangjie/dbgfuncs/pkg/symbol"
)

const (
	// FileName 默认配置文件名，位于$HOME下
	FileName  = ".dbgfuncs"
	EnvPrefix = "DBGFUNCS"
)

// keys
const (
	KeyMaxFrames       = "max_frames"
	KeyMaxSEHHops      = "max_seh_hops"
	KeyPtrSize         = "ptr_size"
	KeyWalkMode        = "walk_mode"
	KeyVerifyCall      = "verify_call"
	KeyLog             = "log"
	KeyLogOutput       = "log_output"
	KeySymbolCacheSize = "symbol_cache_size"
)

// Config 调试器配置
type Config struct {
	MaxFrames       int    `mapstructure:"max_frames"`
	MaxSEHHops      int    `mapstructure:"max_seh_hops"`
	PtrSize         int    `mapstructure:"ptr_size"`
	WalkMode        string `mapstructure:"walk_mode"`
	VerifyCall      bool   `mapstructure:"verify_call"`
	Log             bool   `mapstructure:"log"`
	LogOutput       string `mapstructure:"log_output"`
	SymbolCacheSize int    `mapstructure:"symbol_cache_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxFrames:       stack.DefaultMaxFrames,
		MaxSEHHops:      seh.DefaultMaxHops,
		PtrSize:         8,
		WalkMode:        "scan",
		SymbolCacheSize: symbol.DefaultCacheSize,
	}
}

// SetDefaults registers the built-in values on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyMaxFrames, d.MaxFrames)
	v.SetDefault(KeyMaxSEHHops, d.MaxSEHHops)
	v.SetDefault(KeyPtrSize, d.PtrSize)
	v.SetDefault(KeyWalkMode, d.WalkMode)
	v.SetDefault(KeyVerifyCall, d.VerifyCall)
	v.SetDefault(KeyLog, d.Log)
	v.SetDefault(KeyLogOutput, d.LogOutput)
	v.SetDefault(KeySymbolCacheSize, d.SymbolCacheSize)
}

// BindFlags binds the command line flags that share a key name.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range []string{KeyMaxFrames, KeyMaxSEHHops, KeyPtrSize,
		KeyWalkMode, KeyVerifyCall, KeyLog, KeyLogOutput, KeySymbolCacheSize} {
		f := flags.Lookup(key)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// ReadInConfig reads cfgFile, or $HOME/.dbgfuncs.yaml when cfgFile is empty.
// A missing default file is not an error.
func ReadInConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return err
		}
		v.AddConfigPath(home)
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return err
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the option values.
func (c Config) Validate() error {
	if c.PtrSize != 4 && c.PtrSize != 8 {
		return fmt.Errorf("invalid %s %d, want 4 or 8", KeyPtrSize, c.PtrSize)
	}
	if c.MaxFrames <= 0 {
		return fmt.Errorf("invalid %s %d", KeyMaxFrames, c.MaxFrames)
	}
	if c.MaxSEHHops <= 0 {
		return fmt.Errorf("invalid %s %d", KeyMaxSEHHops, c.MaxSEHHops)
	}
	if _, err := stack.ParseMode(c.WalkMode); err != nil {
		return err
	}
	return nil
}
