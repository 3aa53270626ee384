package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".deet"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the
// config file or overridden on the command line.
type Config struct {
	// Prompt printed before every command line.
	Prompt string `yaml:"prompt" mapstructure:"prompt"`
	// HistoryFile keeps the lines accepted by the prompt across sessions.
	HistoryFile string `yaml:"history-file" mapstructure:"history-file"`

	// EntryFunctions are the outermost frames, backtrace stops once one of
	// them has been printed.
	EntryFunctions []string `yaml:"entry-functions" mapstructure:"entry-functions"`
	// MaxStackDepth bounds the number of frames a backtrace unwinds.
	MaxStackDepth int `yaml:"max-stack-depth" mapstructure:"max-stack-depth"`

	// DisassembleSyntax is one of go, gnu, intel.
	DisassembleSyntax string `yaml:"disassemble-syntax" mapstructure:"disassemble-syntax"`
	// DisassembleCount is the number of instructions disass prints by default.
	DisassembleCount int `yaml:"disassemble-count" mapstructure:"disassemble-count"`

	// Color enables coloured stop reports when stdout is a terminal.
	Color bool `yaml:"color" mapstructure:"color"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Prompt:            "(deet) ",
		HistoryFile:       "~/.deet_history",
		EntryFunctions:    []string{"main"},
		MaxStackDepth:     1024,
		DisassembleSyntax: "gnu",
		DisassembleCount:  10,
		Color:             true,
	}
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"prompt":       "prompt",
	"history-file": "history-file",
}

// BindFlags makes the flags in fs override the matching configuration keys
// when they are set on the command line.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration from file, or from $HOME/.deet/config.yml
// when file is empty. A missing default config file is created with the
// built-in defaults.
func Load(v *viper.Viper, file string) (*Config, error) {
	def := Default()
	v.SetDefault("prompt", def.Prompt)
	v.SetDefault("history-file", def.HistoryFile)
	v.SetDefault("entry-functions", def.EntryFunctions)
	v.SetDefault("max-stack-depth", def.MaxStackDepth)
	v.SetDefault("disassemble-syntax", def.DisassembleSyntax)
	v.SetDefault("disassemble-count", def.DisassembleCount)
	v.SetDefault("color", def.Color)

	if file == "" {
		path, err := GetConfigFilePath(configFile)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := createDefaultConfig(path); err != nil {
				return nil, err
			}
		}
		file = path
	}

	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file %s: %w", file, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", file, err)
	}

	history, err := homedir.Expand(c.HistoryFile)
	if err != nil {
		return nil, err
	}
	c.HistoryFile = history
	return &c, nil
}

// SaveConfig marshals conf and writes it to path.
func SaveConfig(conf *Config, path string) error {
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.WriteString("# Configuration file for the deet debugger.\n\n"); err != nil {
		return err
	}
	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}
	if err := SaveConfig(Default(), path); err != nil {
		return fmt.Errorf("unable to write default configuration: %w", err)
	}
	return nil
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir, file), nil
}
