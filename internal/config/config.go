// Package config loads ferrisvault settings from defaults, a yaml file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	appName   = "ferrisvault"
	envPrefix = "FERRISVAULT"
)

type Generator struct {
	Length    int  `mapstructure:"length" yaml:"length"`
	Uppercase bool `mapstructure:"uppercase" yaml:"uppercase"`
	Numbers   bool `mapstructure:"numbers" yaml:"numbers"`
	Symbols   bool `mapstructure:"symbols" yaml:"symbols"`
}

type Config struct {
	Dir            string        `mapstructure:"dir"`
	Lang           string        `mapstructure:"lang"`
	ClipboardClear time.Duration `mapstructure:"clipboard_clear"`
	Verbose        bool          `mapstructure:"verbose"`
	Debug          bool          `mapstructure:"debug"`
	Generator      Generator     `mapstructure:"generator"`
}

// fileConfig is the on-disk shape; durations are written as strings.
type fileConfig struct {
	Dir            string    `yaml:"dir"`
	Lang           string    `yaml:"lang"`
	ClipboardClear string    `yaml:"clipboard_clear"`
	Verbose        bool      `yaml:"verbose"`
	Debug          bool      `yaml:"debug"`
	Generator      Generator `yaml:"generator"`
}

// flagKeys maps command line flag names onto config keys where they differ.
var flagKeys = map[string]string{
	"length": "generator.length",
}

// negatedFlags switch a generator character class off when given.
var negatedFlags = map[string]string{
	"no-upper":   "generator.uppercase",
	"no-numbers": "generator.numbers",
	"no-symbols": "generator.symbols",
}

// DefaultDir is where the vault files live unless configured otherwise.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ferris-vault"
	}
	return filepath.Join(home, ".ferris-vault")
}

func Defaults() map[string]any {
	return map[string]any{
		"dir":                 DefaultDir(),
		"lang":                "en",
		"clipboard_clear":     "30s",
		"verbose":             false,
		"debug":               false,
		"generator.length":    12,
		"generator.uppercase": true,
		"generator.numbers":   true,
		"generator.symbols":   true,
	}
}

// ConfigPath returns the user or system-wide config file location.
func ConfigPath(system bool) (string, error) {
	var dir string
	if system {
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(os.Getenv("ProgramData"), appName)
		default:
			dir = filepath.Join("/etc", appName)
		}
	} else {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		dir = filepath.Join(userDir, appName)
	}
	return filepath.Join(dir, appName+".yaml"), nil
}

// Load builds the effective configuration. configFile, when non-empty, must
// exist. flags may be nil.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if p, err := ConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	if p, err := ConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(p))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if c.ClipboardClear < 0 {
		c.ClipboardClear = 0
	}
	return c, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := negatedFlags[f.Name]; ok {
			if f.Changed && f.Value.String() == "true" {
				v.Set(key, false)
			}
			return
		}
		if f.Name == "config" {
			return
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = f.Name
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	return bindErr
}

// WriteConfigFile stores c as yaml in the user or system config location and
// returns the path written.
func WriteConfigFile(c Config, system bool) (string, error) {
	path, err := ConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigTo(c, path)
}

func WriteConfigTo(c Config, path string) error {
	data, err := yaml.Marshal(fileConfig{
		Dir:            c.Dir,
		Lang:           c.Lang,
		ClipboardClear: c.ClipboardClear.String(),
		Verbose:        c.Verbose,
		Debug:          c.Debug,
		Generator:      c.Generator,
	})
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return os.WriteFile(path, data, 0600)
}
